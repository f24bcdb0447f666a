// Package hash provides the checksums and key digests used by the disk cache.
package hash
