package converter

// GetRank orders the definitions of one name. Lower wins: the default
// version first, then the highest version index.
func GetRank(versym uint16) uint64 {
	idx := uint64(versym &^ VERSYM_HIDDEN)
	if versym&VERSYM_HIDDEN != 0 {
		return (2 << 24) - idx
	}
	return (1 << 24) - idx
}
