package sampler

import "strconv"

// Format renders the sample as a wire line without the terminator.
func Format(sample Sample) string {
	return string(appendFields(make([]byte, 0, 80), sample))
}

// Encode renders the sample as a complete newline-terminated wire line.
func Encode(sample Sample) string {
	return string(AppendFrame(make([]byte, 0, 80), sample))
}

// AppendFrame appends the newline-terminated wire line to dst.
func AppendFrame(dst []byte, sample Sample) []byte {
	return append(appendFields(dst, sample), '\n')
}

func appendFields(dst []byte, sample Sample) []byte {
	var gpuUsage, gpuTemp, gpuPower int
	if sample.GPU != nil {
		gpuUsage = sample.GPU.UsagePercent
		gpuTemp = sample.GPU.TempC
		gpuPower = sample.GPU.PowerW
	}

	dst = append(dst, "CPU:"...)
	dst = strconv.AppendInt(dst, int64(sample.CPUUsagePercent), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(sample.CPUTempC), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(sample.CPUPowerW), 10)

	dst = append(dst, ",GPU:"...)
	dst = strconv.AppendInt(dst, int64(gpuUsage), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(gpuTemp), 10)
	dst = append(dst, ',')
	dst = strconv.AppendInt(dst, int64(gpuPower), 10)

	dst = append(dst, ",RAM:"...)
	dst = strconv.AppendInt(dst, int64(sample.RAMUsagePercent), 10)
	dst = append(dst, ',')
	dst = strconv.AppendFloat(dst, sample.RAMUsedGiB, 'f', 1, 64)
	dst = append(dst, ',')
	dst = strconv.AppendFloat(dst, sample.RAMTotalGiB, 'f', 1, 64)

	dst = append(dst, ",GPUMEM:"...)
	dst = strconv.AppendInt(dst, int64(sample.GPUMemUsagePercent), 10)
	return dst
}
