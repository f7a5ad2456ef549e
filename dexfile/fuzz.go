package dexfile

// FuzzParse is a go-fuzz-style harness exercising the same parse path
// the teacher's Fuzz function drove over PE files (fuzz.go).
func FuzzParse(data []byte) int {
	f, err := NewBytes(data, &Options{})
	if err != nil {
		return 0
	}
	if f.Header.StringIDsSize > 0 {
		return 1
	}
	return 0
}
