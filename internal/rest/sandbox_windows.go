// +build windows

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
	"fmt"
	"io"
)

// MakeSandbox confines the server process before it starts listening.
// Chroot and setuid do not exist on Windows, so both arguments are
// ignored with a warning.
func MakeSandbox(chroot string, setuid int, logWriter io.Writer) error {
	if len(chroot) > 0 {
		fmt.Fprintf(logWriter, "Warning: ignoring chroot argument %s on Windows\n", chroot)
	}
	if setuid >= 0 {
		fmt.Fprintf(logWriter, "Warning: ignoring setuid argument %d on Windows\n", setuid)
	}
	return nil
}
