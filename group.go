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
	"sort"
)

// readLimit returns the largest quantity one read request may carry.
func readLimit(fc FunctionCode) uint16 {
	switch fc {
	case FuncCodeReadCoils, FuncCodeReadDiscreteInputs:
		return MaxReadBits
	case FuncCodeReadHoldingRegisters, FuncCodeReadInputRegisters:
		return MaxReadRegisters
	}
	return 0
}

// MergeReads coalesces read commands of the same function whose address
// ranges touch or overlap into as few requests as the protocol limits
// allow. Non-read commands keep their position; merged reads are placed
// where the first read of their function appeared. The tag of a merged
// command lists the tags it covers, joined by "+".
func MergeReads(commands []Command) []Command {
	if len(commands) == 0 {
		return []Command{}
	}

	byFunction := make(map[FunctionCode][]Command)
	var order []FunctionCode
	out := make([]Command, 0, len(commands))
	slots := make(map[int]FunctionCode)
	for _, c := range commands {
		fc := c.Request.Function
		if readLimit(fc) == 0 || c.Request.Quantity == 0 {
			out = append(out, c)
			continue
		}
		if _, seen := byFunction[fc]; !seen {
			order = append(order, fc)
			slots[len(out)] = fc
			out = append(out, Command{})
		}
		byFunction[fc] = append(byFunction[fc], c)
	}

	merged := make(map[FunctionCode][]Command, len(order))
	for _, fc := range order {
		merged[fc] = mergeRun(byFunction[fc], readLimit(fc))
	}

	result := make([]Command, 0, len(commands))
	for i, c := range out {
		if fc, ok := slots[i]; ok {
			result = append(result, merged[fc]...)
			continue
		}
		result = append(result, c)
	}
	return result
}

func mergeRun(reads []Command, limit uint16) []Command {
	sort.SliceStable(reads, func(i, j int) bool {
		return reads[i].Request.Address < reads[j].Request.Address
	})

	var groups []Command
	current := reads[0]
	end := uint32(current.Request.Address) + uint32(current.Request.Quantity)
	for _, r := range reads[1:] {
		start := uint32(r.Request.Address)
		rEnd := start + uint32(r.Request.Quantity)
		newEnd := max(end, rEnd)
		if start <= end && newEnd-uint32(current.Request.Address) <= uint32(limit) {
			end = newEnd
			current.Request.Quantity = uint16(end - uint32(current.Request.Address))
			current.Tag = joinTags(current.Tag, r.Tag)
			continue
		}
		groups = append(groups, current)
		current = r
		end = rEnd
	}
	return append(groups, current)
}

func joinTags(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "+" + b
}
