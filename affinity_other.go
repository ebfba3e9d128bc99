//go:build !linux

package taskgraph

func osThreadID() int { return 0 }

func setAffinity([]int) error { return nil }

func setNice(int) error { return nil }
