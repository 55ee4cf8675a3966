package internal

import (
	"errors"
	"io"
	"log"
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"
)

func Directory(file string) (files []string, err error) {
	info, err := os.Stat(file)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{filepath.Base(file)}, nil
	}
	f, err := os.Open(file)
	if err != nil {
		return nil, err
	}
	defer func() {
		nerr := f.Close()
		if err == nil {
			err = nerr
		}
	}()
	return f.Readdirnames(0)
}

func FullPathname(filename string) (string, error) {
	if filepath.IsAbs(filename) {
		return filename, nil
	}
	wd, err := os.Getwd()
	return filepath.Join(wd, filename), err
}

// FileExists checks whether a regular file or directory exists.
func FileExists(filename string) (bool, error) {
	_, err := os.Stat(filename)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, err
}

// MoveFile renames a file, falling back to copy and delete when
// source and destination are on different file systems.
func MoveFile(from, to string) error {
	err := os.Rename(from, to)
	if err == nil || !errors.Is(err, unix.EXDEV) {
		return err
	}
	if err := CopyFile(from, to); err != nil {
		return err
	}
	return os.Remove(from)
}

// CopyFile copies the contents of a file to a new or truncated file.
func CopyFile(from, to string) (err error) {
	src, err := os.Open(from)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := src.Close(); err == nil {
			err = nerr
		}
	}()
	dst, err := os.Create(to)
	if err != nil {
		return err
	}
	defer func() {
		if nerr := dst.Close(); err == nil {
			err = nerr
		}
	}()
	_, err = io.Copy(dst, src)
	return err
}

// MkdirAll is os.MkdirAll with panics in place of errors
func MkdirAll(path string, perm os.FileMode) {
	if err := os.MkdirAll(path, perm); err != nil {
		log.Panic(err)
	}
}

// FileCreate is os.Create with panics in place of errors
func FileCreate(name string) *os.File {
	f, err := os.Create(name)
	if err != nil {
		log.Panic(err)
	}
	return f
}

// Close is f.Close() with panics in place of errors
func Close(f io.Closer) {
	if err := f.Close(); err != nil {
		log.Panic(err)
	}
}
