package utils

import "testing"

func TestConvertStrToInt(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    uint64
		wantErr bool
	}{
		{
			name: "hex with prefix",
			in:   "0xffffff8000200000",
			want: 0xffffff8000200000,
		},
		{
			name: "hex without prefix",
			in:   "dead",
			want: 0xdead,
		},
		{
			name: "decimal",
			in:   "4096",
			want: 4096,
		},
		{
			name: "uppercase hex",
			in:   "0xFEEDFACF",
			want: 0xfeedfacf,
		},
		{
			name:    "garbage",
			in:      "not-a-number",
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ConvertStrToInt(tt.in)
			if (err != nil) != tt.wantErr {
				t.Errorf("ConvertStrToInt() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if got != tt.want {
				t.Errorf("ConvertStrToInt() = %#x, want %#x", got, tt.want)
			}
		})
	}
}
