// Package cos provides common low-level types and utilities for all mempool packages
/*
 * Copyright (c) 2018-2026, NVIDIA CORPORATION. All rights reserved.
 */
package cos

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// IEC (binary) units
const (
	KiB = 1024
	MiB = 1024 * KiB
	GiB = 1024 * MiB
	TiB = 1024 * GiB
)

func ToSizeIEC(b int64, digits int) string {
	switch {
	case b >= TiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(TiB), "TiB")
	case b >= GiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(GiB), "GiB")
	case b >= MiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(MiB), "MiB")
	case b >= KiB:
		return fmt.Sprintf("%.*f%s", digits, float32(b)/float32(KiB), "KiB")
	default:
		return fmt.Sprintf("%dB", b)
	}
}

// ParseSize accepts raw numbers of bytes as well as IEC suffixes: "4096", "4KiB", "4K", "2MiB"
func ParseSize(size string) (int64, error) {
	var (
		s    = strings.ToUpper(strings.TrimSpace(size))
		mult = int64(1)
	)
	if s == "" {
		return 0, nil
	}
	for _, u := range []struct {
		sfx  string
		mult int64
	}{
		{"TIB", TiB}, {"GIB", GiB}, {"MIB", MiB}, {"KIB", KiB},
		{"T", TiB}, {"G", GiB}, {"M", MiB}, {"K", KiB}, {"B", 1},
	} {
		if strings.HasSuffix(s, u.sfx) {
			s, mult = strings.TrimSpace(strings.TrimSuffix(s, u.sfx)), u.mult
			break
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "invalid size %q", size)
	}
	if n < 0 {
		return 0, errors.Errorf("invalid size %q: negative", size)
	}
	return n * mult, nil
}
