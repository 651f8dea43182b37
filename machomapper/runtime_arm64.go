package machomapper

import "github.com/ius/corebridge/abi"

// arm64Encoder emits AAPCS64 call sequences built from a 4-instruction
// 64-bit immediate load into x16 (the platform's intra-procedure-call
// scratch register) followed by a blr, since arm64 has no single
// absolute-call encoding.
type arm64Encoder struct{}

func (arm64Encoder) prologue(buf []byte) []byte {
	// stp x29, x30, [sp, #-16]!; mov x29, sp
	return append(buf,
		0xfd, 0x7b, 0xbf, 0xa9,
		0xfd, 0x03, 0x00, 0x91,
	)
}

func (arm64Encoder) epilogue(buf []byte) []byte {
	// ldp x29, x30, [sp], #16; ret
	return append(buf,
		0xfd, 0x7b, 0xc1, 0xa8,
		0xc0, 0x03, 0x5f, 0xd6,
	)
}

func (arm64Encoder) callAbsolute(buf []byte, target abi.NativePointer) []byte {
	buf = loadImm64(buf, 16, uint64(target))
	return append(buf, blr(16)...)
}

func (arm64Encoder) callResolverAndPatch(buf []byte, resolver abi.NativePointer, addend int64, target abi.NativePointer) []byte {
	buf = loadImm64(buf, 16, uint64(resolver))
	buf = append(buf, blr(16)...) // result in x0
	if addend != 0 {
		buf = append(buf, addImm64(0, 0, addend)...)
	}
	buf = loadImm64(buf, 17, uint64(target))
	// str x0, [x17]
	return append(buf, 0x20, 0x02, 0x00, 0xf9)
}

func (arm64Encoder) callInitArrayEntry(buf []byte, entryAddr abi.NativePointer) []byte {
	buf = loadImm64(buf, 16, uint64(entryAddr))
	// ldr x16, [x16]
	buf = append(buf, 0x10, 0x02, 0x40, 0xf9)
	return append(buf, blr(16)...)
}

func (arm64Encoder) returnZero(buf []byte) []byte {
	// mov x0, #0; ret
	return append(buf, 0x00, 0x00, 0x80, 0xd2, 0xc0, 0x03, 0x5f, 0xd6)
}

// loadImm64 emits a movz/movk*3 sequence loading a 64-bit immediate into
// register reg (0-30).
func loadImm64(buf []byte, reg byte, v uint64) []byte {
	buf = append(buf, movWide(0xd2, 0, uint16(v), reg)...)     // movz reg, v[15:0]
	buf = append(buf, movWide(0xf2, 1, uint16(v>>16), reg)...) // movk reg, v[31:16], lsl 16
	buf = append(buf, movWide(0xf2, 2, uint16(v>>32), reg)...) // movk reg, v[47:32], lsl 32
	buf = append(buf, movWide(0xf2, 3, uint16(v>>48), reg)...) // movk reg, v[63:48], lsl 48
	return buf
}

// movWide encodes the MOVZ/MOVK (64-bit) instruction family: opc
// selects movz (0xd2) vs movk (0xf2) in the top byte, hw is the shift
// field (0-3, each step = 16 bits).
func movWide(opcByte byte, hw uint32, imm16 uint16, reg byte) []byte {
	// sf(1) opc(2) 100101 hw(2) imm16(16) Rd(5)
	var sf uint32 = 1 << 31
	var opc uint32
	if opcByte == 0xd2 {
		opc = 2 << 29 // MOVZ
	} else {
		opc = 3 << 29 // MOVK
	}
	instr := sf | opc | (0b100101 << 23) | (hw << 21) | (uint32(imm16) << 5) | uint32(reg)
	return []byte{byte(instr), byte(instr >> 8), byte(instr >> 16), byte(instr >> 24)}
}

func blr(reg byte) []byte {
	// BLR Rn: 1101011000111111000000 Rn 00000
	instr := uint32(0b1101011000111111000000<<5) | (uint32(reg) << 5)
	return []byte{byte(instr), byte(instr >> 8), byte(instr >> 16), byte(instr >> 24)}
}

func addImm64(dst, src byte, imm int64) []byte {
	// ADD Xd, Xn, #imm12 (unsigned, non-negative immediates only; negative
	// addends fall back to a SUB encoding).
	var instr uint32
	if imm >= 0 {
		instr = (1 << 31) | (0 << 30) | (0b100010 << 24) | (uint32(imm) & 0xfff << 10) | (uint32(src) << 5) | uint32(dst)
	} else {
		instr = (1 << 31) | (1 << 30) | (0b100010 << 24) | (uint32(-imm) & 0xfff << 10) | (uint32(src) << 5) | uint32(dst)
	}
	return []byte{byte(instr), byte(instr >> 8), byte(instr >> 16), byte(instr >> 24)}
}
