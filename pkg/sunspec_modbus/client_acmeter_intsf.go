package sunspec_modbus

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/simonvetter/modbus"
	"go.uber.org/zap"
)

// register offsets within the int+SF meter models (201-204), relative to the
// model id register
const (
	meterMeasurementOffset = 2
	meterMeasurementLength = 21

	meterIdxPhaseACurrent = 1
	meterIdxPhaseBCurrent = 2
	meterIdxPhaseCCurrent = 3
	meterIdxCurrentSF     = 4
	meterIdxPhaseAVoltage = 6
	meterIdxPhaseBVoltage = 7
	meterIdxPhaseCVoltage = 8
	meterIdxVoltageSF     = 13
	meterIdxFrequency     = 14
	meterIdxFrequencySF   = 15
	meterIdxPower         = 16
	meterIdxPowerSF       = 20

	meterOffsetEnergyExported = 38
	meterOffsetEnergyImported = 46
	meterOffsetEnergySF       = 54
)

type acMeterIntSFModbusBlocks struct {
	common  uint16
	acMeter uint16
}

func (blk *acMeterIntSFModbusBlocks) AllBlocksDefined() bool {
	return blk.common > 0 && blk.acMeter > 0
}

type ACMeterIntSFModbusReader struct {
	ModbusClient
	blocks        acMeterIntSFModbusBlocks
	ignoreFronius bool
}

func CreateACMeterIntSFModbusReader(ip string, port uint, acMeterAddress uint8, timeout time.Duration,
	ignoreFronius bool, logger *zap.Logger, instrumentation *ModbusInstrument) (ACMeterModbusReader, error) {
	client, err := modbus.NewClient(&modbus.ClientConfiguration{
		URL:     fmt.Sprintf("tcp://%s:%d", ip, port),
		Timeout: timeout,
	})
	if err != nil {
		return nil, err
	}

	var inst []ModbusInstrument
	if logInst := traceLoggerInstrumentation(logger.With(zap.Uint8("meter_id", acMeterAddress))); logInst != nil {
		inst = append(inst, *logInst)
	}
	if instrumentation != nil {
		inst = append(inst, *instrumentation)
	}

	if err := client.SetUnitId(acMeterAddress); err != nil {
		return nil, err
	}
	return &ACMeterIntSFModbusReader{
		ModbusClient: ModbusClient{
			client:     client,
			instrument: inst,
		},
		ignoreFronius: ignoreFronius,
	}, nil
}

func (reader *ACMeterIntSFModbusReader) Open() error {
	if err := reader.client.Open(); err != nil {
		return err
	}
	if err := reader.survey(); err != nil {
		_ = reader.client.Close()
		return err
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) Close() error {
	return reader.client.Close()
}

func (reader *ACMeterIntSFModbusReader) Validate() error {
	str, err := reader.readString(SUNSPEC_BASE_ADDR, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return errors.New("could not find a SunSpec smart meter")
	}
	if reader.ignoreFronius {
		return nil
	}
	str, err = reader.readString(SUNSPEC_BASE_ADDR+4, 32)
	if err != nil {
		return err
	}
	if str != "Fronius" {
		return errors.New("could not find a Fronius smart meter")
	}
	return nil
}

func (reader *ACMeterIntSFModbusReader) GetInfo() (*ACMeterInfo, error) {
	manufacturer, err := reader.readString(reader.blocks.common+2, 32)
	if err != nil {
		return nil, err
	}
	model, err := reader.readString(reader.blocks.common+18, 32)
	if err != nil {
		return nil, err
	}
	version, err := reader.readString(reader.blocks.common+42, 16)
	if err != nil {
		return nil, err
	}
	serial, err := reader.readString(reader.blocks.common+50, 32)
	if err != nil {
		return nil, err
	}

	return &ACMeterInfo{
		Manufacturer: manufacturer,
		Model:        model,
		Version:      version,
		Serial:       serial,
	}, nil
}

func (reader *ACMeterIntSFModbusReader) GetCurrentPowerFlowWatt() (float64, error) {
	regs, err := reader.readRegisters(reader.blocks.acMeter+meterMeasurementOffset+meterIdxPower, 5, modbus.HOLDING_REGISTER)
	if err != nil {
		return 0, err
	}
	return reader.applySFint16(int16(regs[0]), regs[4]), nil
}

// GetPowerFlow reads the instantaneous measurements in a single request, then
// the lifetime energy counters.
func (reader *ACMeterIntSFModbusReader) GetPowerFlow() (*ACMeterPowerFlow, error) {
	regs, err := reader.readRegisters(reader.blocks.acMeter+meterMeasurementOffset, meterMeasurementLength, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	if len(regs) < meterMeasurementLength {
		return nil, fmt.Errorf("short meter read: %d registers", len(regs))
	}
	totalEnergyExported, err := reader.readUint32(reader.blocks.acMeter+meterOffsetEnergyExported, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	totalEnergyImported, err := reader.readUint32(reader.blocks.acMeter+meterOffsetEnergyImported, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	totWhSF, err := reader.readRegister(reader.blocks.acMeter+meterOffsetEnergySF, modbus.HOLDING_REGISTER)
	if err != nil {
		return nil, err
	}
	return reader.decodePowerFlow(regs, totalEnergyExported, totalEnergyImported, totWhSF), nil
}

func (reader *ACMeterIntSFModbusReader) decodePowerFlow(regs []uint16, exported, imported uint32, totWhSF uint16) *ACMeterPowerFlow {
	currentSF := regs[meterIdxCurrentSF]
	voltageSF := regs[meterIdxVoltageSF]
	totalRealPower := reader.applySFint16(int16(regs[meterIdxPower]), regs[meterIdxPowerSF])

	flow := &ACMeterPowerFlow{
		CurrentPowerFlowWatt:   totalRealPower,
		TotalEnergyExportedKWh: reader.applySFuint32(exported, totWhSF) / 1000,
		TotalEnergyImportedKWh: reader.applySFuint32(imported, totWhSF) / 1000,
		Frequency:              reader.applySF(regs[meterIdxFrequency], regs[meterIdxFrequencySF]),
		PhaseACurrent:          reader.applySFint16(int16(regs[meterIdxPhaseACurrent]), currentSF),
		PhaseBCurrent:          reader.applySFint16(int16(regs[meterIdxPhaseBCurrent]), currentSF),
		PhaseCCurrent:          reader.applySFint16(int16(regs[meterIdxPhaseCCurrent]), currentSF),
		PhaseAVoltage:          reader.applySF(regs[meterIdxPhaseAVoltage], voltageSF),
		PhaseBVoltage:          reader.applySF(regs[meterIdxPhaseBVoltage], voltageSF),
		PhaseCVoltage:          reader.applySF(regs[meterIdxPhaseCVoltage], voltageSF),
	}
	if totalRealPower < 0 {
		flow.CurrentExportPowerWatt = math.Abs(totalRealPower)
	} else {
		flow.CurrentImportPowerWatt = totalRealPower
	}
	return flow
}

func (reader *ACMeterIntSFModbusReader) survey() error {
	str, err := reader.readString(SUNSPEC_BASE_ADDR, 4)
	if err != nil {
		return err
	}
	if str != "SunS" {
		return errors.New("could not find a SunSpec smart meter")
	}

	blocks := acMeterIntSFModbusBlocks{}
	var baseAddr uint16 = SUNSPEC_BASE_ADDR + 2
	for n := 0; n <= 10 && !blocks.AllBlocksDefined(); n++ {
		block, err := surveyModbusBlock(reader.client, baseAddr)
		if err != nil {
			return err
		}
		if block.isEndBlock() {
			break
		}
		switch {
		case block.id == SUNSPEC_WK_COMMON:
			blocks.common = block.baseAddr
		case block.isMeter():
			blocks.acMeter = block.baseAddr
		}
		baseAddr = baseAddr + block.length + 2
	}
	if !blocks.AllBlocksDefined() {
		return errors.New("could not find all required sunspec blocks (common, ac_meter)")
	}
	reader.blocks = blocks
	return nil
}
