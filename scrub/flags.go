package scrub

// ExtentFlags selects which of the three checksum flavors block-complete
// runs: bit 0 marks a data extent, bit 1 a tree-block (metadata) extent,
// bit 2 a super-block extent. Exactly one of the three is expected to be
// set on any given Block.
type ExtentFlags uint64

const (
	FlagData ExtentFlags = 1 << iota
	FlagTreeBlock
	FlagSuper
)

func (f ExtentFlags) isData() bool { return f&FlagData != 0 }
func (f ExtentFlags) isTreeBlock() bool { return f&FlagTreeBlock != 0 }
func (f ExtentFlags) isSuper() bool { return f&FlagSuper != 0 }
