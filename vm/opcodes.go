package vm

// Opcode numbers of AllFeatures: the unit type names sorted alphabetically,
// starting from 1.
const (
	opAdd = iota + 1
	opAssign
	opClip
	opDiv
	opExpon
	opInch
	opLine
	opLinen
	opMul
	opNeg
	opOscil
	opOut
	opOuts
	opRand
	opSub
	opSvfilter
	opTone
	opVco2
)
