package entry

// Category places a BMC-family payload into a staging subdirectory and
// counts it against one of two independent count quotas.
type Category string

const (
	CategoryUserRequested   Category = "user-requested"
	CategoryApplicationCore Category = "application-core"
)

// BMC is the BMC family's per-entry extension: the attributes a Manager[T]
// tracks alongside Base without embedding it directly. Manager owns the
// Base separately (see dumpmgr.trackedEntry) so that every family's
// extension type stays a plain data-holder with no lifecycle of its own.
type BMC struct {
	Category Category
}

// DiagnosticType selects the System family's collector binary.
type DiagnosticType string

const (
	DiagSelfTest           DiagnosticType = "SelfTest"
	DiagFPGA               DiagnosticType = "FPGA"
	DiagEROT               DiagnosticType = "EROT"
	DiagROT                DiagnosticType = "ROT"
	DiagRetLTSSM           DiagnosticType = "RetLTSSM"
	DiagRetRegister        DiagnosticType = "RetRegister"
	DiagFirmwareAttributes DiagnosticType = "FirmwareAttributes"
	DiagHardwareCheckout   DiagnosticType = "HardwareCheckout"
)

// System is the System family's per-entry extension: the diagnostic-type
// discriminator that picked its collector binary.
type System struct {
	DiagnosticType DiagnosticType
}

// FaultDataType enumerates the fault-log family's record kinds.
type FaultDataType string

const (
	FaultDataCPER FaultDataType = "CPER"
)

// NA is the default value for any decoded-CPER field absent from decoded.json.
const NA = "NA"

// FaultLog is the fault-log family's per-entry extension: the fault-record
// discriminator and the decoded-CPER attributes populated from
// <staging>/<id>/Decoded/decoded.json.
type FaultLog struct {
	FaultDataType      FaultDataType
	AdditionalTypeName string
	PrimaryLogID       string

	NotificationType string
	SectionType      string
	PCIeVendorID     string
}

// NewFaultLog builds a FaultLog extension with all decoded fields defaulted
// to "NA" for anything decoded.json doesn't supply.
func NewFaultLog() FaultLog {
	return FaultLog{
		AdditionalTypeName: NA,
		PrimaryLogID:       NA,
		NotificationType:   NA,
		SectionType:        NA,
		PCIeVendorID:       NA,
	}
}

// FDRAction selects what a field-data-request collection does. Only
// Collect produces a catalog entry.
type FDRAction string

const (
	FDRActionCollect FDRAction = "Collect"
	FDRActionClean   FDRAction = "Clean"
)

// FDR is the FDR family's per-entry extension. It carries nothing beyond
// what Base already holds: the family's creation-time parameters (time
// range, max size, extended source) don't need to be retained once the
// collector has been invoked.
type FDR struct{}
