package services

import (
	"fmt"
	"runtime"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

// HostStats lectura de CPU y memoria
type HostStats struct {
	CPUPercent  float64
	LoadAverage [3]float64
	MemUsed     uint64
	MemTotal    uint64
	HeapUsed    uint64
	HeapTotal   uint64
}

// SystemSampler obtiene CPU/memoria del host y del runtime
type SystemSampler interface {
	Sample() (HostStats, error)
}

type hostSampler struct{}

// NewHostSampler crea un sampler basado en gopsutil y runtime.MemStats
func NewHostSampler() SystemSampler {
	return hostSampler{}
}

// Sample siempre retorna la memoria del runtime; los errores de gopsutil
// se acumulan y la lectura parcial se entrega igual.
func (hostSampler) Sample() (HostStats, error) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	stats := HostStats{
		MemUsed:   m.Sys,
		MemTotal:  m.Sys,
		HeapUsed:  m.HeapAlloc,
		HeapTotal: m.HeapSys,
	}

	var firstErr error

	// intervalo 0: compara contra la llamada anterior, no bloquea
	percents, err := cpu.Percent(0, false)
	if err != nil {
		firstErr = fmt.Errorf("cpu percent: %w", err)
	} else if len(percents) > 0 {
		stats.CPUPercent = percents[0]
	}

	avg, err := load.Avg()
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("load average: %w", err)
		}
	} else {
		stats.LoadAverage = [3]float64{avg.Load1, avg.Load5, avg.Load15}
	}

	vm, err := mem.VirtualMemory()
	if err != nil {
		if firstErr == nil {
			firstErr = fmt.Errorf("virtual memory: %w", err)
		}
	} else if vm.Total > 0 {
		stats.MemTotal = vm.Total
	}

	return stats, firstErr
}
