//go:build !linux

package affinity

func setAffinity(core int) int { return -1 }
