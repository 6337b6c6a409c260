// Copyright 2024 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package gpmi

import (
	"encoding/binary"
	"os"
	"path"
	"testing"
)

func createDirs(t *testing.T, root string, dirs ...string) string {
	for _, dir := range dirs {
		if err := os.MkdirAll(path.Join(root, dir), os.ModePerm); err != nil {
			t.Fatal(err)
		}
	}
	return root
}

func createFile(t *testing.T, root, name string, content []byte) {
	if err := os.WriteFile(path.Join(root, name), content, 0o644); err != nil {
		t.Fatal(err)
	}
}

func createSymLink(t *testing.T, root string, source string, destination string) {
	if err := os.Symlink(path.Join(root, source), path.Join(root, destination)); err != nil {
		t.Fatal(err)
	}
}

func regProperty(cells ...uint32) []byte {
	b := make([]byte, 4*len(cells))
	for i, c := range cells {
		binary.BigEndian.PutUint32(b[4*i:], c)
	}
	return b
}

// createPlatformDevices lays out a sysfs platform device directory with an
// i.MX28 and an i.MX50 controller.
func createPlatformDevices(t *testing.T) string {
	root := t.TempDir()
	createDirs(t, root,
		"devices",
		"soc/8000c000.gpmi-nand/of_node",
		"soc/41006000.gpmi-nand/of_node",
		"soc/80010000.ssp/of_node",
		"soc/80020000.gpmi-nand",
	)
	createFile(t, root, "soc/8000c000.gpmi-nand/of_node/compatible", []byte("fsl,imx28-gpmi-nand\x00"))
	createFile(t, root, "soc/8000c000.gpmi-nand/of_node/reg", regProperty(0x8000c000, 0x2000, 0x8000b000, 0x2000))
	createFile(t, root, "soc/41006000.gpmi-nand/of_node/compatible", []byte("acme,board\x00fsl,imx50-gpmi-nand\x00"))
	createFile(t, root, "soc/80010000.ssp/of_node/compatible", []byte("fsl,imx28-mmc\x00"))
	for _, name := range []string{"8000c000.gpmi-nand", "41006000.gpmi-nand", "80010000.ssp", "80020000.gpmi-nand"} {
		createSymLink(t, root, "soc/"+name, "devices/"+name)
	}
	return path.Join(root, "devices")
}

func TestFindPlatforms(t *testing.T) {
	all, err := findPlatforms(createPlatformDevices(t))
	if err != nil {
		t.Fatal(err)
	}
	want := []Platform{
		{Name: "41006000.gpmi-nand", Generation: MX50, GPMIBase: 0x41006000, BCHBase: 0x41008000},
		{Name: "8000c000.gpmi-nand", Generation: MX28, GPMIBase: 0x8000c000, BCHBase: 0x8000b000},
	}
	if len(all) != len(want) {
		t.Fatalf("got %v", all)
	}
	for i := range want {
		if all[i] != want[i] {
			t.Fatalf("#%d: got %s, want %s", i, &all[i], &want[i])
		}
	}
}

func TestFindPlatforms_missing(t *testing.T) {
	if _, err := findPlatforms(path.Join(t.TempDir(), "nope")); err == nil {
		t.Fatal("expected error")
	}
}

func TestBCHBaseFromReg(t *testing.T) {
	root := t.TempDir()
	createFile(t, root, "short", regProperty(0x8000c000, 0x2000))
	createFile(t, root, "other", regProperty(0x1000, 0x2000, 0x3000, 0x2000))
	if _, ok := bchBaseFromReg(path.Join(root, "short"), 0x8000c000); ok {
		t.Fatal("single window")
	}
	if _, ok := bchBaseFromReg(path.Join(root, "other"), 0x8000c000); ok {
		t.Fatal("foreign window")
	}
}

func TestPlatform_String(t *testing.T) {
	p := Platform{Name: "8000c000.gpmi-nand", Generation: MX28, GPMIBase: 0x8000c000, BCHBase: 0x8000a000}
	if s := p.String(); s != "8000c000.gpmi-nand(i.MX28, gpmi@0x8000c000, bch@0x8000a000)" {
		t.Fatal(s)
	}
}
