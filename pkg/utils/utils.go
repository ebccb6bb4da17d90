package utils

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
)

func MustNo(err error) {
	if err != nil {
		Fatal(err)
	}
}

var NoColor bool

func Fatal(v any) {
	prefix := "\033[0;1;31mfatal:\033[0m"
	if NoColor {
		prefix = "fatal:"
	}
	fmt.Fprintln(os.Stderr, "vlink: "+prefix, fmt.Sprintf("%s", v))
	os.Exit(1)
}

func AlignTo(val, align uint64) uint64 {
	if align == 0 {
		return val
	}
	return (val + align - 1) & ^(align - 1)
}

func Read[T any](data []byte) (val T) {
	return ReadOrder[T](data, binary.LittleEndian)
}

func Write[T any](data []byte, e T) {
	WriteOrder[T](data, e, binary.LittleEndian)
}

func ReadOrder[T any](data []byte, order binary.ByteOrder) (val T) {
	reader := bytes.NewReader(data)
	err := binary.Read(reader, order, &val)
	MustNo(err)
	return
}

func WriteOrder[T any](data []byte, e T, order binary.ByteOrder) {
	buf := &bytes.Buffer{}
	err := binary.Write(buf, order, e)
	MustNo(err)
	copy(data, buf.Bytes())
}

// SignExtend treats bit size of val as the sign bit.
func SignExtend(val uint64, size int) uint64 {
	return uint64(int64(val<<(63-size)) >> (63 - size))
}

func RemoveIf[T any](elems []T, condition func(T) bool) []T {
	i := 0

	for _, elem := range elems {
		if condition(elem) {
			continue
		}
		elems[i] = elem
		i++
	}
	return elems[:i]
}

func Max[T int64 | uint64 | uint8 | int](a, b T) T {
	if a > b {
		return a
	}
	return b
}

func Min[T int64 | uint64 | uint8 | int](a, b T) T {
	if a < b {
		return a
	}
	return b
}
