package enums

import "strings"

// Courier identifies a carrier service offered at checkout. Services ending
// in _paczkomat deliver to a parcel locker.
type Courier string

const (
	CourierDHL             Courier = "dhl"
	CourierDHLPaczkomat    Courier = "dhl_paczkomat"
	CourierInpost          Courier = "inpost"
	CourierInpostPaczkomat Courier = "inpost_paczkomat"
	CourierDPD             Courier = "dpd"
	CourierDPDPaczkomat    Courier = "dpd_paczkomat"
	CourierOrlen           Courier = "orlen"
)

const pickupSuffix = "_paczkomat"

var couriers = []Courier{
	CourierDHL,
	CourierDHLPaczkomat,
	CourierInpost,
	CourierInpostPaczkomat,
	CourierDPD,
	CourierDPDPaczkomat,
	CourierOrlen,
}

func (c Courier) String() string { return string(c) }

func (c Courier) IsValid() bool { return oneOf(c, couriers) }

func (c Courier) IsPickupPoint() bool {
	return strings.HasSuffix(string(c), pickupSuffix)
}
