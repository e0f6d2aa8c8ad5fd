// Copyright (C) 2024  wwhai
//
// This program is free software; you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License along
// with this program; if not, see <https://www.gnu.org/licenses/>.

package modbus

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Command is one row of a command script: a request plus an optional tag
// used in logs.
type Command struct {
	Tag     string
	Request Request
}

// CommandCSVParser converts between CSV command scripts and Commands.
//
// Columns: tag, function, address, quantity, values, writeAddress.
// function, address and quantity accept decimal or 0x-prefixed hex. values
// is a ';'-separated list whose meaning depends on the function:
//
//	0x05        one coil state (1/0, on/off, true/false)
//	0x06        one register value
//	0x08        sub-function followed by data bytes
//	0x0F        coil states; quantity defaults to their count
//	0x10, 0x17  register values; 0x10 quantity defaults to their count
//	0x16        AND mask; OR mask
//	0x2B        read device ID code; object ID
type CommandCSVParser struct {
	headers []string
}

// NewCommandCSVParser creates a new command script parser
func NewCommandCSVParser() *CommandCSVParser {
	return &CommandCSVParser{
		headers: []string{
			"tag",
			"function",
			"address",
			"quantity",
			"values",
			"writeAddress",
		},
	}
}

// ParseCSV parses a command script. Every row is checked with BuildPDU, so
// a returned Command always encodes.
func (p *CommandCSVParser) ParseCSV(reader io.Reader) ([]Command, error) {
	csvReader := csv.NewReader(reader)
	csvReader.TrimLeadingSpace = true
	csvReader.Comment = '#'
	csvReader.FieldsPerRecord = -1

	records, err := csvReader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty CSV file")
	}

	headerMap := make(map[string]int)
	for i, h := range records[0] {
		headerMap[strings.TrimSpace(h)] = i
	}
	for _, field := range []string{"function", "address"} {
		if _, exists := headerMap[field]; !exists {
			return nil, fmt.Errorf("missing required field in CSV header: %s", field)
		}
	}

	var commands []Command
	for i, record := range records[1:] {
		cmd, err := p.parseCommandFromRecord(record, headerMap)
		if err != nil {
			return nil, fmt.Errorf("error parsing row %d: %w", i+2, err)
		}
		if _, err := BuildPDU(cmd.Request); err != nil {
			return nil, fmt.Errorf("validation error for row %d (tag %q): %w", i+2, cmd.Tag, err)
		}
		commands = append(commands, cmd)
	}
	return commands, nil
}

// ParseCSVFromString parses a command script from a string
func (p *CommandCSVParser) ParseCSVFromString(csvData string) ([]Command, error) {
	return p.ParseCSV(strings.NewReader(csvData))
}

// parseNumber accepts decimal or 0x-prefixed hex.
func parseNumber(s string, bitSize int) (uint64, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, bitSize)
	}
	return strconv.ParseUint(s, 10, bitSize)
}

// ParseCoilState parses 1/0, on/off or true/false.
func ParseCoilState(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "on", "true":
		return true, nil
	case "0", "off", "false":
		return false, nil
	}
	return false, fmt.Errorf("%w: %q", ErrInvalidCoilValue, s)
}

func splitValues(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ";")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func parseWords(values []string) ([]uint16, error) {
	words := make([]uint16, len(values))
	for i, v := range values {
		w, err := parseNumber(v, 16)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", v, err)
		}
		words[i] = uint16(w)
	}
	return words, nil
}

func (p *CommandCSVParser) parseCommandFromRecord(record []string, headerMap map[string]int) (Command, error) {
	var cmd Command

	getField := func(fieldName string) string {
		if idx, exists := headerMap[fieldName]; exists && idx < len(record) {
			return strings.TrimSpace(record[idx])
		}
		return ""
	}
	parseUintField := func(fieldName string, bitSize int, required bool) (uint64, error) {
		strVal := getField(fieldName)
		if strVal == "" {
			if required {
				return 0, fmt.Errorf("'%s' is required", fieldName)
			}
			return 0, nil
		}
		val, err := parseNumber(strVal, bitSize)
		if err != nil {
			return 0, fmt.Errorf("invalid '%s': %w", fieldName, err)
		}
		return val, nil
	}

	cmd.Tag = getField("tag")
	fc, err := parseUintField("function", 8, true)
	if err != nil {
		return cmd, err
	}
	addr, err := parseUintField("address", 16, false)
	if err != nil {
		return cmd, err
	}
	qty, err := parseUintField("quantity", 16, false)
	if err != nil {
		return cmd, err
	}
	writeAddr, err := parseUintField("writeAddress", 16, false)
	if err != nil {
		return cmd, err
	}
	values := splitValues(getField("values"))

	req := Request{Function: FunctionCode(fc), Address: uint16(addr), Quantity: uint16(qty)}
	switch req.Function {
	case FuncCodeWriteSingleCoil:
		if len(values) != 1 {
			return cmd, fmt.Errorf("%w: function 05 takes one value, got %d", ErrValueCountMismatch, len(values))
		}
		on, err := ParseCoilState(values[0])
		if err != nil {
			return cmd, err
		}
		req.Value = CoilValue(on)

	case FuncCodeWriteSingleRegister:
		if len(values) != 1 {
			return cmd, fmt.Errorf("%w: function 06 takes one value, got %d", ErrValueCountMismatch, len(values))
		}
		words, err := parseWords(values)
		if err != nil {
			return cmd, err
		}
		req.Value = words[0]

	case FuncCodeDiagnostics:
		words, err := parseWords(values)
		if err != nil {
			return cmd, err
		}
		if len(words) > 0 {
			req.SubFunction = words[0]
			for _, w := range words[1:] {
				if w > 0xFF {
					return cmd, fmt.Errorf("invalid data byte 0x%X", w)
				}
				req.Data = append(req.Data, byte(w))
			}
		}

	case FuncCodeWriteMultipleCoils:
		for _, v := range values {
			on, err := ParseCoilState(v)
			if err != nil {
				return cmd, err
			}
			req.Coils = append(req.Coils, on)
		}
		if req.Quantity == 0 {
			req.Quantity = uint16(len(req.Coils))
		}

	case FuncCodeWriteMultipleRegisters, FuncCodeReadWriteMultipleRegisters:
		words, err := parseWords(values)
		if err != nil {
			return cmd, err
		}
		req.Registers = words
		if req.Function == FuncCodeWriteMultipleRegisters && req.Quantity == 0 {
			req.Quantity = uint16(len(words))
		}
		req.WriteAddress = uint16(writeAddr)

	case FuncCodeMaskWriteRegister:
		words, err := parseWords(values)
		if err != nil {
			return cmd, err
		}
		if len(words) != 2 {
			return cmd, fmt.Errorf("%w: function 16 takes AND;OR masks, got %d values", ErrValueCountMismatch, len(words))
		}
		req.AndMask, req.OrMask = words[0], words[1]

	case FuncCodeEncapsulatedInterface:
		words, err := parseWords(values)
		if err != nil {
			return cmd, err
		}
		req.MEIType = MEIReadDeviceID
		if len(words) > 0 {
			req.ReadDeviceIDCode = byte(words[0])
		}
		if len(words) > 1 {
			req.ObjectID = byte(words[1])
		}
	}
	cmd.Request = req
	return cmd, nil
}

// ToCSV writes commands as a script that ParseCSV reads back.
func (p *CommandCSVParser) ToCSV(commands []Command, writer io.Writer) error {
	csvWriter := csv.NewWriter(writer)
	if err := csvWriter.Write(p.headers); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, cmd := range commands {
		if err := csvWriter.Write(p.commandToRecord(cmd)); err != nil {
			return fmt.Errorf("failed to write CSV record for command %q: %w", cmd.Tag, err)
		}
	}
	csvWriter.Flush()
	return csvWriter.Error()
}

// ToCSVString converts commands to a CSV string
func (p *CommandCSVParser) ToCSVString(commands []Command) (string, error) {
	var builder strings.Builder
	if err := p.ToCSV(commands, &builder); err != nil {
		return "", err
	}
	return builder.String(), nil
}

func formatWords(words []uint16) string {
	parts := make([]string, len(words))
	for i, w := range words {
		parts[i] = fmt.Sprintf("0x%04X", w)
	}
	return strings.Join(parts, ";")
}

func (p *CommandCSVParser) commandToRecord(cmd Command) []string {
	req := cmd.Request
	var values, writeAddr string
	switch req.Function {
	case FuncCodeWriteSingleCoil:
		values = strconv.FormatBool(req.Value == 0xFF00)
	case FuncCodeWriteSingleRegister:
		values = formatWords([]uint16{req.Value})
	case FuncCodeDiagnostics:
		words := []uint16{req.SubFunction}
		for _, b := range req.Data {
			words = append(words, uint16(b))
		}
		values = formatWords(words)
	case FuncCodeWriteMultipleCoils:
		parts := make([]string, len(req.Coils))
		for i, on := range req.Coils {
			parts[i] = "0"
			if on {
				parts[i] = "1"
			}
		}
		values = strings.Join(parts, ";")
	case FuncCodeWriteMultipleRegisters:
		values = formatWords(req.Registers)
	case FuncCodeReadWriteMultipleRegisters:
		values = formatWords(req.Registers)
		writeAddr = strconv.FormatUint(uint64(req.WriteAddress), 10)
	case FuncCodeMaskWriteRegister:
		values = formatWords([]uint16{req.AndMask, req.OrMask})
	case FuncCodeEncapsulatedInterface:
		values = formatWords([]uint16{uint16(req.ReadDeviceIDCode), uint16(req.ObjectID)})
	}
	return []string{
		cmd.Tag,
		fmt.Sprintf("0x%02X", uint8(req.Function)),
		strconv.FormatUint(uint64(req.Address), 10),
		strconv.FormatUint(uint64(req.Quantity), 10),
		values,
		writeAddr,
	}
}
