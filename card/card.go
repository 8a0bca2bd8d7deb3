// Package card holds the card-family descriptors a successful activation
// produces, one tagged variant per card family a reader can select.
package card

import "fmt"

// Descriptor identifies which card family activated and formats itself for
// the dispatcher's select response.
type Descriptor interface {
	Kind() string
	fmt.Stringer
}

// Std14B describes a standard ISO 14443-B card after WUPB/ATTRIB.
type Std14B struct {
	UID       [4]byte
	ATQB      [7]byte
	CID       byte
	MaxFrame  int
	FWI       int
}

func (Std14B) Kind() string { return "std14b" }
func (c Std14B) String() string {
	return fmt.Sprintf("std14b uid=% x atqb=% x cid=%#02x maxframe=%d fwi=%d",
		c.UID[:], c.ATQB[:], c.CID, c.MaxFrame, c.FWI)
}

// SrX describes a SR-X card after its chip-ID/select/UID sequence.
type SrX struct {
	ChipID byte
	UID    [8]byte
}

func (SrX) Kind() string { return "srx" }
func (c SrX) String() string {
	return fmt.Sprintf("srx chipid=%#02x uid=% x", c.ChipID, c.UID[:])
}

// Xerox describes a Xerox-family card activated via the non-framed
// slot-marker anticollision scheme.
type Xerox struct {
	UID  [8]byte
	ATQB [7]byte
}

func (Xerox) Kind() string { return "xerox" }
func (c Xerox) String() string {
	return fmt.Sprintf("xerox uid=% x atqb=% x", c.UID[:], c.ATQB[:])
}

// CtsASK describes a CTS/ASK-family card.
type CtsASK struct {
	PC  byte
	FC  byte
	UID [4]byte
}

func (CtsASK) Kind() string { return "cts-ask" }
func (c CtsASK) String() string {
	return fmt.Sprintf("cts-ask pc=%#02x fc=%#02x uid=% x", c.PC, c.FC, c.UID[:])
}

// Picopass describes an iCLASS/Picopass card.
type Picopass struct {
	CSN        [8]byte
	Conf       [8]byte
	AppIssuer  [8]byte
	EPurse     [8]byte
}

func (Picopass) Kind() string { return "picopass" }
func (c Picopass) String() string {
	return fmt.Sprintf("picopass csn=% x conf=% x app_issuer=% x epurse=% x",
		c.CSN[:], c.Conf[:], c.AppIssuer[:], c.EPurse[:])
}
