// Command thermoprobe reads or writes single registers on a Modbus TCP
// thermostat. Useful when mapping a new device.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/goburrow/modbus"
	"github.com/nergy-se/curvecontrol/pkg/modbusclient"
)

var readCount = flag.Uint("read-count", 1, "how many addreses to read")

func main() {
	address := flag.String("addr", "", "tcp modbus address")

	inputreg := flag.Int("inputreg", 0, "input reg")
	holdingreg := flag.Int("holdingreg", 0, "")
	scaled := flag.Bool("scaled", true, "values are tenths of a degree")

	slaveID := flag.Int("slave", 1, "modbus slave id")
	value := flag.Float64("value", 0, "value to write to holdingreg")
	flag.Parse()

	handler := modbus.NewTCPClientHandler(*address)
	handler.SlaveId = byte(*slaveID)
	defer handler.Close()
	client := modbus.NewClient(handler)

	var raw []byte
	var err error
	switch {
	case isFlagPassed("holdingreg") && isFlagPassed("value"):
		v := uint16(*value)
		if *scaled {
			v = modbusclient.Unscale10(*value)
		}
		raw, err = client.WriteSingleRegister(uint16(*holdingreg), v)
	case isFlagPassed("holdingreg"):
		raw, err = client.ReadHoldingRegisters(uint16(*holdingreg), uint16(*readCount))
	case isFlagPassed("inputreg"):
		raw, err = client.ReadInputRegisters(uint16(*inputreg), uint16(*readCount))
	default:
		flag.Usage()
		return
	}

	if err != nil {
		log.Println("error was: ", err)
		return
	}
	fmt.Printf("raw response: %# x (length: %d)\n", raw, len(raw))
	i := modbusclient.Decode(raw)
	if *scaled {
		f, _ := modbusclient.Scale10(i, nil)
		log.Println("value is: ", f)
		return
	}
	log.Println("value is: ", i)
}

func isFlagPassed(name string) bool {
	found := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}
