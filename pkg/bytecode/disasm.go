package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Disassemble returns a human-readable listing of an instruction stream.
// Immediates are decoded big-endian, matching the wire format.
func Disassemble(code []byte) string {
	return DisassembleWithName(code, "")
}

// DisassembleWithName returns a listing with a name header.
func DisassembleWithName(code []byte, name string) string {
	var sb strings.Builder

	if name != "" {
		sb.WriteString(fmt.Sprintf("; === %s ===\n", name))
	}

	ip := 0
	for ip < len(code) {
		op := Opcode(code[ip])
		info, ok := op.Info()
		if !ok {
			sb.WriteString(fmt.Sprintf("%04d: .byte 0x%02X\n", ip, byte(op)))
			ip++
			continue
		}

		sb.WriteString(fmt.Sprintf("%04d: %-14s", ip, info.Name))
		ip++

		if info.OperandBytes > 0 {
			if ip+info.OperandBytes > len(code) {
				sb.WriteString(" <truncated>\n")
				return sb.String()
			}
			sb.WriteString(" ")
			sb.WriteString(formatOperand(op, code[ip:ip+info.OperandBytes]))
			ip += info.OperandBytes
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func formatOperand(op Opcode, operand []byte) string {
	switch op {
	case OpPushInt:
		return fmt.Sprintf("%d", int64(binary.BigEndian.Uint64(operand)))
	case OpPushFloat:
		return fmt.Sprintf("%g", math.Float64frombits(binary.BigEndian.Uint64(operand)))
	case OpPushByte, OpExec:
		return fmt.Sprintf("%d", operand[0])
	case OpPushString, OpInvoke:
		return fmt.Sprintf("#%d", binary.BigEndian.Uint32(operand))
	case OpJump, OpIfJump, OpIfNotJump, OpFork:
		return fmt.Sprintf("@%d", binary.BigEndian.Uint32(operand))
	case OpOpen:
		return fmt.Sprintf("0x%X", binary.BigEndian.Uint32(operand))
	default:
		return fmt.Sprintf("%d", binary.BigEndian.Uint32(operand))
	}
}
