package test

import "time"

const (
	RunTimes           = 1e5
	BenchParam         = 10
	PoolSize           = 5e4
	Workers            = 8
	DefaultExpiredTime = 10 * time.Second
)
