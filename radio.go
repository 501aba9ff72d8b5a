package dw1000

import (
	"time"
)

// Radio configuration for channel 5, 6.8 Mbps, 16 MHz PRF, 64 symbol
// preamble, PAC 8 and preamble code 4.
var radioSetup = []struct {
	reg    byte
	offset int
	regLen int
	size   int
	value  uint64
}{
	{_DRX_CONF, 0x02, _DRX_CONF_LEN, 2, 0x0001},
	{_DRX_CONF, 0x04, _DRX_CONF_LEN, 2, 0x0087},
	{_DRX_CONF, 0x06, _DRX_CONF_LEN, 2, 0x0010},
	{_DRX_CONF, 0x08, _DRX_CONF_LEN, 4, 0x311A002D},
	{_DRX_CONF, 0x26, _DRX_CONF_LEN, 2, 0x0010},

	{_AGC_CTRL, 0x04, _AGC_CTRL_LEN, 2, 0x8870},
	{_AGC_CTRL, 0x0C, _AGC_CTRL_LEN, 4, 0x2502A907},
	{_AGC_CTRL, 0x12, _AGC_CTRL_LEN, 2, 0x0055},

	{_RF_CONF, 0x0B, _RF_CONF_LEN, 1, 0xD8},
	{_RF_CONF, 0x0C, _RF_CONF_LEN, 4, 0x001E3FE0},

	{_CHAN_CTRL, 0x00, _CHAN_CTRL_LEN, 4, 0x21040055},

	{_FS_CTRL, 0x07, _FS_CTRL_LEN, 4, 0x0800041D},
	{_FS_CTRL, 0x0B, _FS_CTRL_LEN, 1, 0xA6},

	{_TX_CAL, 0x0B, _TX_CAL_LEN, 1, 0xC0},

	// Smart transmit power.
	{_TX_POWER, 0x00, _TX_POWER_LEN, 4, 0x0E082848},
}

// TX_FCTRL bits 13..21: 6.8 Mbps, 16 MHz PRF, 64 symbol preamble.
var txFrameControl = []struct {
	bit int
	on  bool
}{
	{13, false}, {14, true}, {15, true}, {16, true}, {17, false},
	{18, true}, {19, false}, {20, false}, {21, false},
}

const ldeSettleTime = 150 * time.Microsecond

func (d *Device) setupRadio() error {
	for _, w := range radioSetup {
		if err := d.bus.WriteUint(w.reg, w.offset, w.regLen, w.size, w.value); err != nil {
			return err
		}
	}
	return d.bus.UpdateRegister(_TX_FCTRL, _TX_FCTRL_LEN, func(v RegisterValue) (RegisterValue, error) {
		var err error
		for _, b := range txFrameControl {
			if v, err = v.WithBit(b.bit, b.on); err != nil {
				return nil, err
			}
		}
		return v, nil
	})
}

// loadLDE loads the leading edge detection microcode used for RX
// timestamping.
func (d *Device) loadLDE() error {
	if err := d.bus.WriteUint(_LDE_CTRL, _LDE_CFG2, _LDE_CTRL_LEN, 2, 0x1607); err != nil {
		return err
	}
	if err := d.bus.WriteUint(_LDE_CTRL, _LDE_REPC, _LDE_CTRL_LEN, 2, 0x428E); err != nil {
		return err
	}
	if err := d.bus.WriteUint(_PMSC, _PMSC_CTRL0, _PMSC_LEN, 2, 0x0301); err != nil {
		return err
	}
	if err := d.bus.WriteUint(_OTP_IF, _OTP_CTRL, _OTP_IF_LEN, 2, 0x8000); err != nil {
		return err
	}
	d.config.Clock.Sleep(ldeSettleTime)
	return d.bus.WriteUint(_PMSC, _PMSC_CTRL0, _PMSC_LEN, 2, 0x0200)
}

// configureFrameFilter accepts beacon, data and ack frames.
func (d *Device) configureFrameFilter() error {
	return d.setConfigBits(map[int]bool{_FFEN: true, _FFAB: true, _FFAD: true, _FFAA: true})
}

func (d *Device) programAddress() error {
	a := d.config.Address
	if err := d.bus.WriteUint(_PANADR, _PANADR_PAN_ID, _PANADR_LEN, 2, uint64(a.PAN)); err != nil {
		return err
	}
	if a.Width() == 8 {
		return d.bus.WriteRegister(_EUI, a.Bytes())
	}
	return d.bus.WriteUint(_PANADR, _PANADR_SHORT, _PANADR_LEN, 2, a.Value())
}

const maxReceiveTimeout = 0xFFFF * time.Microsecond

// setReceiveTimeout programs the frame wait timeout. Reset leaves it
// disabled, so nothing is written without one.
func (d *Device) setReceiveTimeout() error {
	us := d.config.ReceiveTimeout / time.Microsecond
	if us == 0 {
		return nil
	}
	if err := d.bus.WriteUint(_RX_FWTO, 0, _RX_FWTO_LEN, _RX_FWTO_LEN, uint64(us)); err != nil {
		return err
	}
	return d.setConfigBits(map[int]bool{_RXWTOE: true})
}

func (d *Device) clearStatus() error {
	all := make(RegisterValue, _SYS_STATUS_LEN)
	for i := range all {
		all[i] = 0xFF
	}
	return d.bus.WriteRegister(_SYS_STATUS, all)
}

func (d *Device) setConfigBits(bits map[int]bool) error {
	return d.bus.UpdateRegister(_SYS_CFG, _SYS_CFG_LEN, func(v RegisterValue) (RegisterValue, error) {
		var err error
		for bit, on := range bits {
			if v, err = v.WithBit(bit, on); err != nil {
				return nil, err
			}
		}
		return v, nil
	})
}

func (d *Device) setControlBits(bits ...int) error {
	return d.bus.UpdateRegister(_SYS_CTRL, _SYS_CTRL_LEN, func(v RegisterValue) (RegisterValue, error) {
		var err error
		for _, bit := range bits {
			if v, err = v.WithBit(bit, true); err != nil {
				return nil, err
			}
		}
		return v, nil
	})
}

// enableAutoAck turns on automatic acknowledgement of frames that request
// one, with receiver auto re-enable.
func (d *Device) enableAutoAck() error {
	return d.setConfigBits(map[int]bool{_AUTOACK: true, _RXAUTR: true})
}

// enableDoubleBuffering keeps the receiver listening while a previous frame
// is read out.
func (d *Device) enableDoubleBuffering() error {
	return d.setConfigBits(map[int]bool{_RXAUTR: true, _DIS_DRXB: false})
}

func (d *Device) setAckTurnaround(symbols uint8) error {
	return d.bus.WriteUint(_ACK_RESP_T, _ACK_TIM, _ACK_RESP_T_LEN, 1, uint64(symbols))
}

func (d *Device) setInterruptMask(bits ...int) error {
	mask := make(RegisterValue, _SYS_MASK_LEN)
	for _, bit := range bits {
		var err error
		if mask, err = mask.WithBit(bit, true); err != nil {
			return err
		}
	}
	return d.bus.WriteRegister(_SYS_MASK, mask)
}

func (d *Device) setSendInterrupt() error {
	return d.setInterruptMask(_MTXFRS)
}

func (d *Device) setReceiveInterrupt() error {
	return d.setInterruptMask(_MRXFCG, _MRXOVRR)
}

// search enables the receiver. A frame wait timeout left over from the last
// round is cleared first.
func (d *Device) search() error {
	if d.config.ReceiveTimeout >= time.Microsecond {
		if err := d.bus.ClearStatusBits(_SYS_STATUS, _SYS_STATUS_LEN, _RXRFTO); err != nil {
			return err
		}
	}
	if err := d.bus.WriteUint(_OTP_IF, _OTP_CTRL, _OTP_IF_LEN, 2, 0x8000); err != nil {
		return err
	}
	return d.setControlBits(_RXENAB)
}

func (d *Device) transmit() error {
	return d.setControlBits(_TXSTRT)
}

// transmitAndWait starts transmission and turns the receiver on as soon as
// the frame is sent.
func (d *Device) transmitAndWait() error {
	return d.setControlBits(_WAIT4RESP, _TXSTRT)
}

// SystemTime returns the free running 40-bit system clock of the chip, in
// timestamp ticks.
func (d *Device) SystemTime() (uint64, error) {
	v, err := d.bus.ReadRegister(_SYS_TIME, _SYS_TIME_LEN)
	if err != nil {
		return 0, err
	}
	return v.Uint64() & _TIMESTAMP_MASK, nil
}

func (d *Device) readStatus() (RegisterValue, error) {
	return d.bus.ReadRegister(_SYS_STATUS, _SYS_STATUS_LEN)
}

// readFrame returns the received frame without its FCS.
func (d *Device) readFrame() ([]byte, error) {
	info, err := d.bus.ReadUint(_RX_FINFO, 0, _RX_FINFO_LEN, 2)
	if err != nil {
		return nil, err
	}
	n := int(info&_RXFLEN_MASK) - FCSLen
	if n <= 0 {
		return nil, invalidArgument("received frame length %d", n+FCSLen)
	}
	return d.bus.ReadRegister(_RX_BUFFER, n)
}

func (d *Device) rxTimestamp() (uint64, error) {
	return d.bus.ReadUint(_RX_TIME, _RX_STAMP, _RX_TIME_LEN, _TIMESTAMP_LEN)
}

func (d *Device) txTimestamp() (uint64, error) {
	return d.bus.ReadUint(_TX_TIME, _TX_STAMP, _TX_TIME_LEN, _TIMESTAMP_LEN)
}

// RxQuality returns the first path amplitude over the noise standard
// deviation of the last received frame. It returns 0 when no noise figure is
// available.
func (d *Device) RxQuality() (float64, error) {
	ampl, err := d.bus.ReadUint(_RX_FQUAL, _FP_AMPL2, _RX_FQUAL_LEN, 2)
	if err != nil {
		return 0, err
	}
	noise, err := d.bus.ReadUint(_RX_FQUAL, _STD_NOISE, _RX_FQUAL_LEN, 1)
	if err != nil {
		return 0, err
	}
	if noise == 0 {
		return 0, nil
	}
	return float64(ampl) / float64(noise), nil
}

// toggleBuffer acknowledges a received frame. With double buffering it hands
// the buffer back to the receiver; otherwise it clears the receive status.
func (d *Device) toggleBuffer(status RegisterValue) error {
	if overrun, _ := status.Bit(_RXOVRR); overrun {
		d.log.Warn("Receiver overrun")
		if err := d.bus.ClearStatusBits(_SYS_STATUS, _SYS_STATUS_LEN, _RXOVRR); err != nil {
			return err
		}
	}
	hsrbp, _ := status.Bit(_HSRBP)
	icrbp, _ := status.Bit(_ICRBP)
	if hsrbp != icrbp {
		return d.setControlBits(_HRBPT)
	}
	return d.bus.ClearStatusBits(_SYS_STATUS, _SYS_STATUS_LEN, _RXFCE, _RXFCG, _RXDFR, _LDEDONE)
}
