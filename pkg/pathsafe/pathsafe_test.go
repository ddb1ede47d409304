/*
   Copyright The containerd Authors.

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package pathsafe

import "testing"

func TestValidate(t *testing.T) {
	cases := []struct {
		path    string
		wantErr bool
	}{
		{"/input", false},
		{"/input/in", false},
		{"path/path/path", false},
		{"..", true},
		{"../etc/passwd", true},
		{"/input/../secret", true},
		{".", true},
		{"./input", true},
		{`C:\Windows`, true},
		{"/", false},
	}

	for _, tc := range cases {
		err := Validate(tc.path)
		if tc.wantErr && err == nil {
			t.Errorf("Validate(%q) = nil, want error", tc.path)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("Validate(%q) = %v, want nil", tc.path, err)
		}
	}
}
