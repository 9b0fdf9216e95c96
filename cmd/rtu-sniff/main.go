// Command rtu-sniff opens a serial port, feeds every byte it reads into a
// modbus frame parser, and logs each completed or errored frame. It does
// not speak Modbus itself: it only observes a line another master and
// slave are already talking on.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/grid-x/serial"

	"github.com/gridspan/modbus-rtu"
)

func main() {
	var (
		address     = flag.String("port", "/dev/ttyUSB0", "serial device to read from")
		baudRate    = flag.Int("baudrate", 9600, "symbol rate, e.g. 1200, 2400, 4800, 9600, 19200")
		dataBits    = flag.Int("databits", 8, "5, 6, 7 or 8")
		parity      = flag.String("parity", "N", "N - None, E - Even, O - Odd")
		stopBits    = flag.Int("stopbits", 1, "1 or 2")
		slaveID     = flag.Int("slave", 0, "slave address to match; 0 observes every address (promiscuous)")
		role        = flag.String("role", "response", "which side of the wire to decode: response or request")
		little      = flag.Bool("little-endian", false, "treat Address/Quantity/CRC fields as little-endian")
		swap        = flag.Bool("swap-registers", false, "reverse byte order within each register of the payload")
		regSize     = flag.Int("register-size", 2, "register width in bytes, used with -swap-registers")
		strictExcCRC = flag.Bool("strict-exception-crc", false, "validate the CRC trailing an exception response before reporting it")
		verbose     = flag.Bool("v", false, "log every fed byte, not just completed/errored frames")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	port, err := serial.Open(&serial.Config{
		Address:  *address,
		BaudRate: *baudRate,
		DataBits: *dataBits,
		Parity:   *parity,
		StopBits: *stopBits,
		Timeout:  0, // block until bytes arrive; this tool only observes
	})
	if err != nil {
		logger.Error("could not open serial port", "address", *address, "err", err)
		os.Exit(1)
	}
	defer port.Close()

	cfg := modbus.Config{
		SlaveAddress:       byte(*slaveID),
		SwapRegisters:      *swap,
		RegisterSize:       uint16(*regSize),
		StrictExceptionCRC: *strictExcCRC,
		Logger:             &debugAdapter{logger},
		OnComplete: func(e *modbus.FrameEngine) {
			logger.Info("frame complete",
				"slave", e.SlaveAddress(), "fc", fmt.Sprintf("%#x", e.FunctionCode()),
				"address", e.Address(), "quantity", e.Quantity(),
				"byteCount", e.ByteCount(), "data", fmt.Sprintf("% x", e.Data()))
		},
		OnError: func(e *modbus.FrameEngine) {
			logger.Warn("frame error", "slave", e.SlaveAddress(), "err", e.Err())
		},
	}
	if *little {
		cfg.Endianness = modbus.LittleEndian
	}

	var engine *modbus.FrameEngine
	switch *role {
	case "response":
		engine = modbus.NewResponseParser(cfg).FrameEngine
	case "request":
		engine = modbus.NewRequestParser(cfg).FrameEngine
	default:
		logger.Error("unknown role, want response or request", "role", *role)
		os.Exit(1)
	}

	buf := make([]byte, 256)
	for {
		n, err := port.Read(buf)
		if err != nil {
			logger.Error("read failed", "err", err)
			os.Exit(1)
		}
		for _, b := range buf[:n] {
			engine.Feed(b)
		}
	}
}
