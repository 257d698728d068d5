package tmc

import (
	"fmt"
	"math/bits"
	"sort"
	"strings"
)

// Access describes which directions a register supports.
type Access uint8

const (
	Read Access = 1 << iota
	Write
	ReadWrite = Read | Write
)

func (a Access) String() string {
	switch a {
	case Read:
		return "R"
	case Write:
		return "W"
	case ReadWrite:
		return "RW"
	}
	return "?"
}

// TMC2209 register addresses.
const (
	GCONF      = 0x00
	GSTAT      = 0x01
	IFCNT      = 0x02
	NODECONF   = 0x03
	OTP_PROG   = 0x04
	OTP_READ   = 0x05
	IOIN       = 0x06
	IHOLD_IRUN = 0x10
	TPOWERDOWN = 0x11
	TSTEP      = 0x12
	TPWMTHRS   = 0x13
	TCOOLTHRS  = 0x14
	VACTUAL    = 0x22
	SGTHRS     = 0x40
	SG_RESULT  = 0x41
	COOLCONF   = 0x42
	MSCNT      = 0x6A
	MSCURACT   = 0x6B
	CHOPCONF   = 0x6C
	DRV_STATUS = 0x6F
	PWMCONF    = 0x70
	PWM_SCALE  = 0x71
	PWM_AUTO   = 0x72
)

// RegisterInfo describes one register of the driver.
type RegisterInfo struct {
	Name   string
	Addr   uint8
	Access Access
	Fields map[string]uint32 // field name -> mask
}

// Register is an address/value pair exchanged with the driver.
type Register struct {
	Address uint8
	Value   uint32
}

var registers = map[uint8]RegisterInfo{
	GCONF: {"GCONF", GCONF, ReadWrite, map[string]uint32{
		"i_scale_analog":   1 << 0,
		"internal_rsense":  1 << 1,
		"en_spreadcycle":   1 << 2,
		"shaft":            1 << 3,
		"index_otpw":       1 << 4,
		"index_step":       1 << 5,
		"pdn_disable":      1 << 6,
		"mstep_reg_select": 1 << 7,
		"multistep_filt":   1 << 8,
		"test_mode":        1 << 9,
	}},
	GSTAT: {"GSTAT", GSTAT, ReadWrite, map[string]uint32{
		"reset":   1 << 0,
		"drv_err": 1 << 1,
		"uv_cp":   1 << 2,
	}},
	IFCNT: {"IFCNT", IFCNT, Read, map[string]uint32{
		"ifcnt": 0xff,
	}},
	NODECONF: {"NODECONF", NODECONF, Write, map[string]uint32{
		"senddelay": 0x0f << 8,
	}},
	OTP_PROG: {"OTP_PROG", OTP_PROG, Write, map[string]uint32{
		"otpbit":   0x07,
		"otpbyte":  0x03 << 4,
		"otpmagic": 0xff << 8,
	}},
	OTP_READ: {"OTP_READ", OTP_READ, Read, map[string]uint32{
		"otp_fclktrim": 0x1f,
	}},
	IOIN: {"IOIN", IOIN, Read, map[string]uint32{
		"enn":       1 << 0,
		"ms1":       1 << 2,
		"ms2":       1 << 3,
		"diag":      1 << 4,
		"pdn_uart":  1 << 6,
		"step":      1 << 7,
		"spread_en": 1 << 8,
		"dir":       1 << 9,
		"version":   0xff << 24,
	}},
	IHOLD_IRUN: {"IHOLD_IRUN", IHOLD_IRUN, Write, map[string]uint32{
		"ihold":      0x1f << 0,
		"irun":       0x1f << 8,
		"iholddelay": 0x0f << 16,
	}},
	TPOWERDOWN: {"TPOWERDOWN", TPOWERDOWN, Write, map[string]uint32{
		"tpowerdown": 0xff,
	}},
	TSTEP: {"TSTEP", TSTEP, Read, map[string]uint32{
		"tstep": 0xfffff,
	}},
	TPWMTHRS: {"TPWMTHRS", TPWMTHRS, Write, map[string]uint32{
		"tpwmthrs": 0xfffff,
	}},
	TCOOLTHRS: {"TCOOLTHRS", TCOOLTHRS, Write, map[string]uint32{
		"tcoolthrs": 0xfffff,
	}},
	VACTUAL: {"VACTUAL", VACTUAL, Write, map[string]uint32{
		"vactual": 0xffffff,
	}},
	SGTHRS: {"SGTHRS", SGTHRS, Write, map[string]uint32{
		"sgthrs": 0xff,
	}},
	SG_RESULT: {"SG_RESULT", SG_RESULT, Read, map[string]uint32{
		"sg_result": 0x3ff,
	}},
	COOLCONF: {"COOLCONF", COOLCONF, Write, map[string]uint32{
		"semin":  0x0f << 0,
		"seup":   0x03 << 5,
		"semax":  0x0f << 8,
		"sedn":   0x03 << 13,
		"seimin": 1 << 15,
	}},
	MSCNT: {"MSCNT", MSCNT, Read, map[string]uint32{
		"mscnt": 0x3ff,
	}},
	MSCURACT: {"MSCURACT", MSCURACT, Read, map[string]uint32{
		"cur_a": 0x1ff << 0,
		"cur_b": 0x1ff << 16,
	}},
	CHOPCONF: {"CHOPCONF", CHOPCONF, ReadWrite, map[string]uint32{
		"toff":    0x0f << 0,
		"hstrt":   0x07 << 4,
		"hend":    0x0f << 7,
		"tbl":     0x03 << 15,
		"vsense":  1 << 17,
		"mres":    0x0f << 24,
		"intpol":  1 << 28,
		"dedge":   1 << 29,
		"diss2g":  1 << 30,
		"diss2vs": 1 << 31,
	}},
	DRV_STATUS: {"DRV_STATUS", DRV_STATUS, Read, map[string]uint32{
		"otpw":      1 << 0,
		"ot":        1 << 1,
		"s2ga":      1 << 2,
		"s2gb":      1 << 3,
		"s2vsa":     1 << 4,
		"s2vsb":     1 << 5,
		"ola":       1 << 6,
		"olb":       1 << 7,
		"t120":      1 << 8,
		"t143":      1 << 9,
		"t150":      1 << 10,
		"t157":      1 << 11,
		"cs_actual": 0x1f << 16,
		"stealth":   1 << 30,
		"stst":      1 << 31,
	}},
	PWMCONF: {"PWMCONF", PWMCONF, ReadWrite, map[string]uint32{
		"pwm_ofs":       0xff << 0,
		"pwm_grad":      0xff << 8,
		"pwm_freq":      0x03 << 16,
		"pwm_autoscale": 1 << 18,
		"pwm_autograd":  1 << 19,
		"freewheel":     0x03 << 20,
		"pwm_reg":       0x0f << 24,
		"pwm_lim":       0x0f << 28,
	}},
	PWM_SCALE: {"PWM_SCALE", PWM_SCALE, Read, map[string]uint32{
		"pwm_scale_sum":  0xff << 0,
		"pwm_scale_auto": 0x1ff << 16,
	}},
	PWM_AUTO: {"PWM_AUTO", PWM_AUTO, Read, map[string]uint32{
		"pwm_ofs_auto":  0xff << 0,
		"pwm_grad_auto": 0xff << 16,
	}},
}

// Lookup returns the description of a register address.
func Lookup(addr uint8) (RegisterInfo, bool) {
	info, ok := registers[addr&0x7f]
	return info, ok
}

// Name returns the register name, or a hex placeholder for unknown addresses.
func Name(addr uint8) string {
	if info, ok := Lookup(addr); ok {
		return info.Name
	}
	return fmt.Sprintf("REG_0x%02X", addr&0x7f)
}

// Field extracts a named field from a register value.
func (r RegisterInfo) Field(name string, value uint32) (uint32, bool) {
	mask, ok := r.Fields[name]
	if !ok {
		return 0, false
	}
	return (value & mask) >> bits.TrailingZeros32(mask), true
}

// SetField returns value with the named field replaced by v. Bits of v that
// do not fit the field are dropped.
func (r RegisterInfo) SetField(name string, value, v uint32) (uint32, error) {
	mask, ok := r.Fields[name]
	if !ok {
		return value, fmt.Errorf("register %s has no field %q", r.Name, name)
	}
	shift := bits.TrailingZeros32(mask)
	return (value &^ mask) | ((v << shift) & mask), nil
}

// Describe formats a register value with its non-zero fields, sorted by bit
// position.
func (r RegisterInfo) Describe(value uint32) string {
	type maskField struct {
		mask uint32
		name string
	}
	fields := make([]maskField, 0, len(r.Fields))
	for name, mask := range r.Fields {
		fields = append(fields, maskField{mask, name})
	}
	sort.Slice(fields, func(i, j int) bool {
		return fields[i].mask < fields[j].mask
	})

	var parts []string
	for _, f := range fields {
		if v, _ := r.Field(f.name, value); v != 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", f.name, v))
		}
	}
	return strings.TrimSpace(fmt.Sprintf("%-11s %08x %s", r.Name+":", value, strings.Join(parts, " ")))
}

// MRES converts a microstep count (1..256, power of two) into the CHOPCONF
// mres encoding.
func MRES(microsteps int) (uint32, error) {
	if microsteps < 1 || microsteps > 256 || microsteps&(microsteps-1) != 0 {
		return 0, fmt.Errorf("microsteps must be a power of two in 1..256, got %d", microsteps)
	}
	return uint32(8 - bits.TrailingZeros(uint(microsteps))), nil
}

// Microsteps is the inverse of MRES.
func Microsteps(mres uint32) int {
	if mres > 8 {
		return 0
	}
	return 256 >> mres
}
