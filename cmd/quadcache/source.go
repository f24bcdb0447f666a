package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"

	"github.com/hupe1980/quadcache"
	"github.com/hupe1980/quadcache/blobstore"
	minioblob "github.com/hupe1980/quadcache/blobstore/minio"
	s3blob "github.com/hupe1980/quadcache/blobstore/s3"
	"github.com/hupe1980/quadcache/catalog"
	"github.com/hupe1980/quadcache/codec"
)

// sourceEnv holds the credentials of remote catalog sources.
type sourceEnv struct {
	Source      string `env:"SOURCE"`
	S3Region    string `env:"S3_REGION"`
	S3Endpoint  string `env:"S3_ENDPOINT"`
	MinioAccess string `env:"MINIO_ACCESS_KEY"`
	MinioSecret string `env:"MINIO_SECRET_KEY"`
	MinioRegion string `env:"MINIO_REGION"`
	MinioSecure bool   `env:"MINIO_SECURE" envDefault:"true"`
}

// clientFlags are shared by commands that build a client.
type clientFlags struct {
	source  string
	catalog string
	layer   string
	version uint64
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.source, "source", "", "catalog source (defaults to QUADCACHE_SOURCE)")
	cmd.Flags().StringVar(&f.catalog, "catalog", "", "catalog HRN (defaults to QUADCACHE_CATALOG)")
	cmd.Flags().StringVar(&f.layer, "layer", "", "layer id (defaults to QUADCACHE_LAYER)")
	cmd.Flags().Uint64Var(&f.version, "version", 0, "layer version (defaults to QUADCACHE_VERSION)")
}

func openSource(ctx context.Context, source string, senv sourceEnv) (blobstore.BlobStore, error) {
	if source == "" {
		return nil, fmt.Errorf("no catalog source configured")
	}
	if !strings.Contains(source, "://") {
		return blobstore.NewLocalStore(source), nil
	}

	u, err := url.Parse(source)
	if err != nil {
		return nil, fmt.Errorf("parse source: %w", err)
	}
	prefix := strings.TrimPrefix(u.Path, "/")

	switch u.Scheme {
	case "file":
		return blobstore.NewLocalStore(u.Path), nil
	case "s3":
		optFns := []func(*s3blob.Options){s3blob.WithPrefix(prefix)}
		if senv.S3Region != "" {
			optFns = append(optFns, s3blob.WithRegion(senv.S3Region))
		}
		if senv.S3Endpoint != "" {
			optFns = append(optFns, s3blob.WithEndpoint(senv.S3Endpoint))
		}
		store, err := s3blob.New(ctx, u.Host, optFns...)
		if err != nil {
			return nil, err
		}
		return store, nil
	case "minio":
		bucket, rest, _ := strings.Cut(prefix, "/")
		if bucket == "" {
			return nil, fmt.Errorf("minio source %q has no bucket", source)
		}
		store, err := minioblob.New(u.Host, bucket, minioblob.Options{
			AccessKey: senv.MinioAccess,
			SecretKey: senv.MinioSecret,
			Region:    senv.MinioRegion,
			Secure:    senv.MinioSecure,
			Prefix:    rest,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported source scheme %q", u.Scheme)
	}
}

// session is an open client with the resources it owns.
type session struct {
	client *quadcache.Client
	store  io.Closer
}

func (s *session) Close() error {
	err := s.client.Close()
	if s.store != nil {
		if cerr := s.store.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func openSession(ctx context.Context, f clientFlags) (*session, error) {
	cfg, err := quadcache.LoadConfig()
	if err != nil {
		return nil, err
	}
	var senv sourceEnv
	if err := env.ParseWithOptions(&senv, env.Options{Prefix: quadcache.EnvPrefix}); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if f.source == "" {
		f.source = senv.Source
	}
	if f.catalog != "" {
		cfg.Catalog = f.catalog
	}
	if f.layer != "" {
		cfg.Layer = f.layer
	}
	if f.version != 0 {
		cfg.Version = f.version
	}

	src, err := openSource(ctx, f.source, senv)
	if err != nil {
		return nil, err
	}
	cd, ok := codec.ByName(cfg.Codec)
	if !ok {
		return nil, fmt.Errorf("unknown codec %q", cfg.Codec)
	}
	svc := catalog.NewLimited(
		catalog.NewBlobCatalog(src, func(o *catalog.BlobCatalogOptions) { o.Codec = cd }),
		cfg.LimitConfig(),
	)

	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	store, err := cfg.OpenStore(ctx)
	if err != nil {
		return nil, err
	}
	s := &session{}
	if c, ok := store.(io.Closer); ok {
		s.store = c
	}

	s.client, err = quadcache.New(cfg.Catalog, cfg.Layer, cfg.Version, store, svc, opts...)
	if err != nil {
		if s.store != nil {
			_ = s.store.Close()
		}
		return nil, err
	}
	return s, nil
}
