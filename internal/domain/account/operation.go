package account

// OperationClass buckets costed operations for rate limiting. Ceilings are
// configured per tier × class, never hard-coded at call sites.
type OperationClass string

const (
	OpGeneration OperationClass = "generation"
	OpExpansion  OperationClass = "expansion"
	OpSave       OperationClass = "save"
	OpDelete     OperationClass = "delete"
	OpExport     OperationClass = "export"
	OpShare      OperationClass = "share"
)

func OperationClasses() []OperationClass {
	return []OperationClass{OpGeneration, OpExpansion, OpSave, OpDelete, OpExport, OpShare}
}

func ValidOperationClass(c OperationClass) bool {
	for _, known := range OperationClasses() {
		if c == known {
			return true
		}
	}
	return false
}
