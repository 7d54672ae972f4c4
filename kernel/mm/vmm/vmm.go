// Package vmm builds amd64 page tables on top of the physical frame
// allocator.
package vmm

import (
	"efikernel/kernel"
	"efikernel/kernel/mm"
)

// ReservedZeroedFrame is a special zero-cleared frame allocated by the
// vmm package's Init function. It can be mapped read-only wherever a blank
// page is needed without spending a frame per mapping.
var ReservedZeroedFrame mm.Frame

var (
	// protectReservedZeroedPage is set to true to prevent RW mappings of
	// ReservedZeroedFrame.
	protectReservedZeroedPage bool

	kernelAddrSpace *AddressSpace
)

// Init creates the kernel address space and reserves the zeroed frame. It
// must be invoked after the physical frame allocator has been registered
// with the mm package.
func Init() *kernel.Error {
	var err *kernel.Error
	if kernelAddrSpace, err = NewAddressSpace(); err != nil {
		return err
	}

	return reserveZeroedFrame()
}

// KernelAddressSpace returns the address space created by Init.
func KernelAddressSpace() *AddressSpace {
	return kernelAddrSpace
}

// reserveZeroedFrame reserves a physical frame to be used for read-only
// blank mappings.
func reserveZeroedFrame() *kernel.Error {
	var err *kernel.Error

	if ReservedZeroedFrame, err = allocTable(); err != nil {
		return err
	}

	// From this point on, ReservedZeroedFrame cannot be mapped with a RW flag
	protectReservedZeroedPage = true
	return nil
}
