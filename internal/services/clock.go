package services

import "time"

// Clock fuente de tiempo inyectable
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// SystemClock reloj real del proceso
var SystemClock Clock = systemClock{}
