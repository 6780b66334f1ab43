package main

// helper to check forward passes do not leak tensors

import (
	"log"
	"syscall"
)

// usedRAM returns used main memory in kB.
// Ref. http://man7.org/linux/man-pages/man2/sysinfo.2.html
func usedRAM() uint64 {
	si := &syscall.Sysinfo_t{}
	if err := syscall.Sysinfo(si); err != nil {
		log.Fatalf("syscall.Sysinfo: %v", err)
	}
	unit := uint64(si.Unit) * 1024 // kB

	return (uint64(si.Totalram) - uint64(si.Freeram)) / unit
}
