package tmc

import "fmt"

// Settings are the driver parameters pushed over UART.
type Settings struct {
	Microsteps  int  // 1..256, power of two
	RunCurrent  int  // IRUN, 0..31
	HoldCurrent int  // IHOLD, 0..31
	HoldDelay   int  // IHOLDDELAY, 0..15
	Shaft       bool // invert motor direction in the driver
	SpreadCycle bool // disable StealthChop
}

// DefaultSettings mirrors a conservative TMC2209 setup.
func DefaultSettings() Settings {
	return Settings{
		Microsteps:  1,
		RunCurrent:  16,
		HoldCurrent: 8,
		HoldDelay:   6,
	}
}

// Registers translates the settings into the register writes that configure
// the driver: GCONF, CHOPCONF and IHOLD_IRUN, in that order.
func (s Settings) Registers() ([]Register, error) {
	if s.RunCurrent < 0 || s.RunCurrent > 31 {
		return nil, fmt.Errorf("run current must be 0..31, got %d", s.RunCurrent)
	}
	if s.HoldCurrent < 0 || s.HoldCurrent > 31 {
		return nil, fmt.Errorf("hold current must be 0..31, got %d", s.HoldCurrent)
	}
	if s.HoldDelay < 0 || s.HoldDelay > 15 {
		return nil, fmt.Errorf("hold delay must be 0..15, got %d", s.HoldDelay)
	}
	mres, err := MRES(s.Microsteps)
	if err != nil {
		return nil, err
	}

	gconfInfo, _ := Lookup(GCONF)
	var gconf uint32
	// UART owns the PDN pin and the microstep setting.
	gconf, _ = gconfInfo.SetField("pdn_disable", gconf, 1)
	gconf, _ = gconfInfo.SetField("mstep_reg_select", gconf, 1)
	gconf, _ = gconfInfo.SetField("multistep_filt", gconf, 1)
	gconf, _ = gconfInfo.SetField("shaft", gconf, boolBit(s.Shaft))
	gconf, _ = gconfInfo.SetField("en_spreadcycle", gconf, boolBit(s.SpreadCycle))

	chopInfo, _ := Lookup(CHOPCONF)
	var chop uint32
	chop, _ = chopInfo.SetField("toff", chop, 3)
	chop, _ = chopInfo.SetField("hstrt", chop, 5)
	chop, _ = chopInfo.SetField("tbl", chop, 2)
	chop, _ = chopInfo.SetField("intpol", chop, 1)
	chop, _ = chopInfo.SetField("mres", chop, mres)

	currentInfo, _ := Lookup(IHOLD_IRUN)
	var current uint32
	current, _ = currentInfo.SetField("ihold", current, uint32(s.HoldCurrent))
	current, _ = currentInfo.SetField("irun", current, uint32(s.RunCurrent))
	current, _ = currentInfo.SetField("iholddelay", current, uint32(s.HoldDelay))

	return []Register{
		{Address: GCONF, Value: gconf},
		{Address: CHOPCONF, Value: chop},
		{Address: IHOLD_IRUN, Value: current},
	}, nil
}

func boolBit(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
