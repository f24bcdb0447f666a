// Package mmap maps files read-only into memory.
//
// On unix systems files are mapped with mmap(2) via golang.org/x/sys/unix;
// elsewhere the file is read into memory. Either way Bytes is valid until
// Close.
package mmap
