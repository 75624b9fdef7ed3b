//go:build !linux

package main

func powerOff() error {
	return errUnsupportedPlatform
}
