// +build linux darwin

// Copyright (C) 2024 The bfkernel authors
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package rest

import (
	"io"
	"testing"
)

func TestMakeSandboxNoOp(t *testing.T) {
	if err := MakeSandbox("", -1, io.Discard); err != nil {
		t.Errorf("error %v; want nil when both steps are skipped", err)
	}
}

func TestMakeSandboxBadChroot(t *testing.T) {
	// fails with ENOENT as root and EPERM otherwise; either way the error
	// must surface instead of terminating the process
	err := MakeSandbox("/this/path/does/not/exist", -1, io.Discard)
	if err == nil {
		t.Errorf("error nil; want one for a nonexistent chroot directory")
	}
}
