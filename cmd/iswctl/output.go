package main

import (
	"fmt"
	"io"
	"strings"

	"codeberg.org/mutker/iswctl/internal/control"
	"codeberg.org/mutker/iswctl/internal/monitor"
	"codeberg.org/mutker/iswctl/internal/profile"
)

const dumpColumns = 16

// printDump renders the register file as a 16-column hex table followed by
// the printable characters of each row.
func printDump(w io.Writer, data []byte) {
	var b strings.Builder

	b.WriteString("     ")
	for col := range dumpColumns {
		fmt.Fprintf(&b, " %02x", col)
	}
	b.WriteString("\n")

	for row := 0; row < len(data); row += dumpColumns {
		end := min(row+dumpColumns, len(data))
		fmt.Fprintf(&b, "%02x | ", row)
		for _, v := range data[row:end] {
			fmt.Fprintf(&b, "%02x ", v)
		}
		b.WriteString(strings.Repeat("   ", dumpColumns-(end-row)))
		b.WriteString("| ")
		for _, v := range data[row:end] {
			if v >= 0x20 && v < 0x7f {
				b.WriteByte(v)
			} else {
				b.WriteByte('.')
			}
		}
		b.WriteString("\n")
	}

	io.WriteString(w, b.String())
}

func printBoards(w io.Writer, boards []string) {
	for _, board := range boards {
		fmt.Fprintln(w, board)
	}
}

func printApply(w io.Writer, res control.ApplyResult) {
	fmt.Fprintf(w, "Profile %s: %d written, %d failed\n", res.Board, res.Succeeded(), res.Failed())
	for _, r := range res.Results {
		if r.Err != nil {
			fmt.Fprintf(w, "  %s = %d: %v\n", r.Address, r.Value, r.Err)
		}
	}
}

func printWrite(w io.Writer, what string, wr profile.Write) {
	fmt.Fprintf(w, "%s: wrote %d to %s\n", what, wr.Value, wr.Address)
}

func printProfileState(w io.Writer, st control.ProfileState) {
	fmt.Fprintf(w, "Board: %s\n", st.Board)
	fmt.Fprintf(w, "Fan mode: %s = %d (%s)\n", st.FanMode.Address, st.FanMode.Value, profile.FanModeName(st.FanMode.Value))
	if st.ChargeThreshold != nil {
		fmt.Fprintf(w, "Battery charge threshold: %s = %d (%s)\n",
			st.ChargeThreshold.Address, st.ChargeThreshold.Value,
			control.DescribeChargeThreshold(st.ChargeThreshold.Value))
	}

	printFanState(w, "CPU", st.CPU)
	printFanState(w, "GPU", st.GPU)
}

func printFanState(w io.Writer, name string, fs control.FanState) {
	fmt.Fprintf(w, "\n%s\n", name)
	fmt.Fprintf(w, "  %-12s", "Temperature")
	for _, c := range fs.Temps {
		fmt.Fprintf(w, " %s=%-3d", c.Address, c.Value)
	}
	fmt.Fprintf(w, "\n  %-12s", "Fan speed")
	for _, c := range fs.Duties {
		fmt.Fprintf(w, " %s=%-3d", c.Address, c.Value)
	}
	fmt.Fprintln(w)
}

func printFirmware(w io.Writer, fps []profile.FirmwareProfile) {
	for i, fp := range fps {
		if i > 0 {
			fmt.Fprintln(w)
		}
		fmt.Fprintf(w, "Profile %d\n", fp.Index)
		printCells(w, "CPU temperature", fp.CPUTemps)
		printCells(w, "CPU fan speed", fp.CPUDuties)
		printCells(w, "GPU temperature", fp.GPUTemps)
		printCells(w, "GPU fan speed", fp.GPUDuties)
	}
}

func printCells(w io.Writer, label string, cells []profile.Cell) {
	fmt.Fprintf(w, "  %-16s", label)
	for _, c := range cells {
		fmt.Fprintf(w, " %#x=%-3d", c.Offset, c.Value)
	}
	fmt.Fprintln(w)
}

func printSampleHeader(w io.Writer) {
	fmt.Fprintf(w, "%-8s  %8s %8s %8s  %8s %8s %8s\n",
		"Time", "CPU °C", "CPU %", "CPU RPM", "GPU °C", "GPU %", "GPU RPM")
}

func printSample(w io.Writer, s monitor.Sample) {
	fmt.Fprintf(w, "%-8s  %8d %8d %8d  %8d %8d %8d\n",
		s.Time.Format("15:04:05"),
		s.CPU.Temp, s.CPU.Duty, s.CPU.RPM,
		s.GPU.Temp, s.GPU.Duty, s.GPU.RPM)
}
