package machomapper

import "github.com/ius/corebridge/abi"

// amd64Encoder emits the System V AMD64 call sequences the runtime
// blob's constructor/destructor/atexit stub are built from. Calls use
// an absolute `movabs rax, imm64; call rax` pair rather than a rel32
// `call` so the blob stays position-independent of its own future
// relocation: the runtime area's own address is only known once the
// footprint budget has already fixed the blob's size.
type amd64Encoder struct{}

func (amd64Encoder) prologue(buf []byte) []byte {
	// push rbp; mov rbp, rsp; push rbx (callee-saved, used as scratch)
	return append(buf, 0x55, 0x48, 0x89, 0xe5, 0x53)
}

func (amd64Encoder) epilogue(buf []byte) []byte {
	// pop rbx; pop rbp; ret
	return append(buf, 0x5b, 0x5d, 0xc3)
}

func (amd64Encoder) callAbsolute(buf []byte, target abi.NativePointer) []byte {
	buf = movabsRAX(buf, uint64(target))
	return append(buf, 0xff, 0xd0) // call rax
}

func (amd64Encoder) callResolverAndPatch(buf []byte, resolver abi.NativePointer, addend int64, target abi.NativePointer) []byte {
	buf = movabsRAX(buf, uint64(resolver))
	buf = append(buf, 0xff, 0xd0) // call rax; result in rax
	if addend != 0 {
		buf = append(buf, 0x48, 0x05) // add rax, imm32 (imm32 sign-extended)
		buf = appendInt32LE(buf, int32(addend))
	}
	buf = movabsRBX(buf, uint64(target))
	return append(buf, 0x48, 0x89, 0x03) // mov [rbx], rax
}

func (amd64Encoder) callInitArrayEntry(buf []byte, entryAddr abi.NativePointer) []byte {
	buf = movabsRAX(buf, uint64(entryAddr))
	buf = append(buf, 0x48, 0x8b, 0x00) // mov rax, [rax]  (load the function pointer)
	return append(buf, 0xff, 0xd0)      // call rax
}

func (amd64Encoder) returnZero(buf []byte) []byte {
	// xor eax, eax; ret
	return append(buf, 0x31, 0xc0, 0xc3)
}

func movabsRAX(buf []byte, v uint64) []byte {
	buf = append(buf, 0x48, 0xb8) // movabs rax, imm64
	return appendUint64LE(buf, v)
}

func movabsRBX(buf []byte, v uint64) []byte {
	buf = append(buf, 0x48, 0xbb) // movabs rbx, imm64
	return appendUint64LE(buf, v)
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24), byte(v>>32), byte(v>>40), byte(v>>48), byte(v>>56))
}

func appendInt32LE(buf []byte, v int32) []byte {
	u := uint32(v)
	return append(buf, byte(u), byte(u>>8), byte(u>>16), byte(u>>24))
}
