package sunspec_modbus

func CreateTestACMeterModbusReader() (ACMeterModbusReader, error) {
	return &TestACMeterModbusReader{
		Flow: ACMeterPowerFlow{
			CurrentPowerFlowWatt:   4140,
			CurrentImportPowerWatt: 4140,
			TotalEnergyExportedKWh: 2770.34,
			TotalEnergyImportedKWh: 550.22,
			Frequency:              50,
			PhaseACurrent:          12.5,
			PhaseBCurrent:          3.1,
			PhaseCCurrent:          2.4,
			PhaseAVoltage:          231.2,
			PhaseBVoltage:          230.4,
			PhaseCVoltage:          229.8,
		},
	}, nil
}

// TestACMeterModbusReader serves a fixed power flow. Err, when set, is
// returned by every read.
type TestACMeterModbusReader struct {
	Flow   ACMeterPowerFlow
	Err    error
	Opened bool
}

func (reader *TestACMeterModbusReader) Open() error {
	if reader.Err != nil {
		return reader.Err
	}
	reader.Opened = true
	return nil
}

func (reader *TestACMeterModbusReader) Close() error {
	reader.Opened = false
	return nil
}

func (reader *TestACMeterModbusReader) Validate() error {
	return reader.Err
}

func (reader *TestACMeterModbusReader) GetInfo() (*ACMeterInfo, error) {
	if reader.Err != nil {
		return nil, reader.Err
	}
	return &ACMeterInfo{
		Manufacturer: "Fronius",
		Model:        "Smart Meter TS 65A-3",
		Version:      "1.2",
	}, nil
}

func (reader *TestACMeterModbusReader) GetCurrentPowerFlowWatt() (float64, error) {
	if reader.Err != nil {
		return 0, reader.Err
	}
	return reader.Flow.CurrentPowerFlowWatt, nil
}

func (reader *TestACMeterModbusReader) GetPowerFlow() (*ACMeterPowerFlow, error) {
	if reader.Err != nil {
		return nil, reader.Err
	}
	flow := reader.Flow
	return &flow, nil
}
