package dw1000

// --- DW1000 Register File ---

// Register IDs and their total lengths in bytes.
const (
	_DEV_ID     = 0x00
	_EUI        = 0x01
	_PANADR     = 0x03
	_SYS_CFG    = 0x04
	_SYS_TIME   = 0x06
	_TX_FCTRL   = 0x08
	_TX_BUFFER  = 0x09
	_RX_FWTO    = 0x0C
	_SYS_CTRL   = 0x0D
	_SYS_MASK   = 0x0E
	_SYS_STATUS = 0x0F
	_RX_FINFO   = 0x10
	_RX_BUFFER  = 0x11
	_RX_FQUAL   = 0x12
	_RX_TIME    = 0x15
	_TX_TIME    = 0x17
	_ACK_RESP_T = 0x1A
	_TX_POWER   = 0x1E
	_CHAN_CTRL  = 0x1F
	_AGC_CTRL   = 0x23
	_DRX_CONF   = 0x27
	_RF_CONF    = 0x28
	_TX_CAL     = 0x2A
	_FS_CTRL    = 0x2B
	_OTP_IF     = 0x2D
	_LDE_CTRL   = 0x2E
	_PMSC       = 0x36
)

const (
	_DEV_ID_LEN     = 4
	_PANADR_LEN     = 4
	_SYS_CFG_LEN    = 4
	_SYS_TIME_LEN   = 5
	_TX_FCTRL_LEN   = 5
	_RX_FWTO_LEN    = 2
	_SYS_CTRL_LEN   = 4
	_SYS_MASK_LEN   = 4
	_SYS_STATUS_LEN = 5
	_RX_FINFO_LEN   = 4
	_RX_BUFFER_LEN  = 1024
	_RX_FQUAL_LEN   = 8
	_RX_TIME_LEN    = 14
	_TX_TIME_LEN    = 10
	_ACK_RESP_T_LEN = 4
	_TX_POWER_LEN   = 4
	_CHAN_CTRL_LEN  = 4
	_AGC_CTRL_LEN   = 33
	_DRX_CONF_LEN   = 46
	_RF_CONF_LEN    = 58
	_TX_CAL_LEN     = 52
	_FS_CTRL_LEN    = 21
	_OTP_IF_LEN     = 18
	_LDE_CTRL_LEN   = 0x2806 + 2
	_PMSC_LEN       = 48
)

// Expected DEV_ID contents: RIDTAG 0xDECA, model 0x01, version 0x3, revision 0x0.
const _DEV_ID_DW1000 = 0xDECA0130

// SPI header bits.
const (
	_HDR_WRITE   = 0x80
	_HDR_SUBADDR = 0x40
	_HDR_REG     = 0x3F
	_HDR_EXT     = 0x80 // set in the first offset byte when a second one follows
)

// SYS_CFG bits.
const (
	_FFEN     = 0
	_FFAB     = 2
	_FFAD     = 3
	_FFAA     = 4
	_DIS_DRXB = 12
	_RXWTOE   = 28
	_RXAUTR   = 29
	_AUTOACK  = 30
)

// SYS_CTRL bits.
const (
	_TXSTRT    = 1
	_TRXOFF    = 6
	_WAIT4RESP = 7
	_RXENAB    = 8
	_HRBPT     = 24
)

// SYS_STATUS bits. SYS_STATUS is write-1-to-clear.
const (
	_TXFRB   = 4
	_TXPRS   = 5
	_TXPHS   = 6
	_TXFRS   = 7
	_LDEDONE = 10
	_RXDFR   = 13
	_RXFCG   = 14
	_RXFCE   = 15
	_RXRFTO  = 17
	_RXOVRR  = 20
	_HSRBP   = 30
	_ICRBP   = 31
)

// SYS_MASK bits.
const (
	_MTXFRS  = 7
	_MRXFCG  = 14
	_MRXOVRR = 20
)

// Sub-register offsets.
const (
	_PANADR_SHORT   = 0x00
	_PANADR_PAN_ID  = 0x02
	_TX_FCTRL_TFLEN = 0x00
	_RX_STAMP       = 0x00
	_TX_STAMP       = 0x00
	_ACK_TIM        = 0x03
	_STD_NOISE      = 0x00
	_FP_AMPL2       = 0x02
	_OTP_CTRL       = 0x06
	_PMSC_CTRL0     = 0x00
	_LDE_CFG2       = 0x1806
	_LDE_REPC       = 0x2804
)

// RX_FINFO frame length mask (RXFLEN plus RXFLE extension bits).
const _RXFLEN_MASK = 0x3FF

// Timestamps are 40-bit counters.
const (
	_TIMESTAMP_LEN  = 5
	_TIMESTAMP_MASK = 1<<40 - 1
)
