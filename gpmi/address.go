// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"encoding/binary"
	"fmt"
	"os"
	"path"
	"regexp"
	"strconv"
	"strings"
)

// Platform is a GPMI controller described by the kernel.
type Platform struct {
	// Name is the platform device name.
	Name       string
	Generation Generation
	GPMIBase   uint64
	BCHBase    uint64
}

func (p *Platform) String() string {
	return fmt.Sprintf("%s(%s, gpmi@%#x, bch@%#x)", p.Name, p.Generation, p.GPMIBase, p.BCHBase)
}

// regBlockSize is the size of the GPMI and BCH register windows.
const regBlockSize = 0x2000

// defaultBCHBases is used when the device tree does not describe the BCH
// window.
var defaultBCHBases = map[Generation]uint64{
	MX23: 0x8000a000,
	MX28: 0x8000a000,
	MX50: 0x41008000,
}

var compatibles = map[string]Generation{
	"fsl,imx23-gpmi-nand": MX23,
	"fsl,imx28-gpmi-nand": MX28,
	"fsl,imx50-gpmi-nand": MX50,
}

var deviceName = regexp.MustCompile(`^([0-9a-f]+)\.(gpmi-nand|gpmi-nfc|gpmi)$`)

// findPlatforms lists the GPMI controllers in the platform device directory
// of sysfs.
func findPlatforms(devicesDir string) ([]Platform, error) {
	items, err := os.ReadDir(devicesDir)
	if err != nil {
		return nil, err
	}
	var out []Platform
	for _, item := range items {
		// Entries are symlinks so IsDir() cannot be used.
		if p, ok := platformFromDirItem(devicesDir, item.Name()); ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func platformFromDirItem(root, name string) (Platform, bool) {
	m := deviceName.FindStringSubmatch(name)
	if m == nil {
		return Platform{}, false
	}
	base, err := strconv.ParseUint(m[1], 16, 64)
	if err != nil {
		return Platform{}, false
	}
	node := path.Join(root, name, "of_node")
	gen, ok := generationFromCompatible(path.Join(node, "compatible"))
	if !ok {
		return Platform{}, false
	}
	p := Platform{Name: name, Generation: gen, GPMIBase: base, BCHBase: defaultBCHBases[gen]}
	if bch, ok := bchBaseFromReg(path.Join(node, "reg"), base); ok {
		p.BCHBase = bch
	}
	return p, true
}

// generationFromCompatible parses a NUL separated compatible property.
func generationFromCompatible(file string) (Generation, bool) {
	b, err := os.ReadFile(file)
	if err != nil {
		return 0, false
	}
	for _, s := range strings.Split(string(b), "\x00") {
		if g, ok := compatibles[s]; ok {
			return g, true
		}
	}
	return 0, false
}

// bchBaseFromReg extracts the second window of a reg property made of
// big endian (address, size) cell pairs.
func bchBaseFromReg(file string, gpmiBase uint64) (uint64, bool) {
	b, err := os.ReadFile(file)
	if err != nil || len(b) < 16 {
		return 0, false
	}
	if uint64(binary.BigEndian.Uint32(b)) != gpmiBase {
		return 0, false
	}
	return uint64(binary.BigEndian.Uint32(b[8:])), true
}
