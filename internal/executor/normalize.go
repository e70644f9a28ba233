// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package executor

import (
	"archive/tar"
	"bytes"
	"io"
	"time"
)

var zeroTime = time.Unix(0, 0).UTC()

// normalizeArtifact rewrites tar archive metadata (mtimes, uids, gids) to
// zero for reproducible mode, passing non-tar bytes through unchanged —
// grounded on original_source/src/reproducible/normalize.rs's
// create_reproducible_tar/normalize_artifact pair.
func normalizeArtifact(data []byte) []byte {
	reader := tar.NewReader(bytes.NewReader(data))
	var buf bytes.Buffer
	writer := tar.NewWriter(&buf)

	for {
		hdr, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			// Not a tar stream (or corrupt): passthrough, per the original's
			// normalize_artifact no-op fallback.
			return data
		}
		hdr.ModTime = zeroTime
		hdr.AccessTime = zeroTime
		hdr.ChangeTime = zeroTime
		hdr.Uid = 0
		hdr.Gid = 0
		hdr.Uname = ""
		hdr.Gname = ""
		if err := writer.WriteHeader(hdr); err != nil {
			return data
		}
		if _, err := io.Copy(writer, reader); err != nil {
			return data
		}
	}
	if err := writer.Close(); err != nil {
		return data
	}
	return buf.Bytes()
}
