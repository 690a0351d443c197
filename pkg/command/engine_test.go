package command

import "testing"

func TestRollbackDetails(t *testing.T) {
	tests := []struct {
		name      string
		succeeded []string
		failed    []string
		want      string
	}{
		{
			name:      "all succeeded",
			succeeded: []string{"a"},
			failed:    nil,
			want:      "Rollback succeeded on a",
		},
		{
			name:      "all failed",
			succeeded: nil,
			failed:    []string{"a"},
			want:      "Rollback failed on a",
		},
		{
			name:      "partial success",
			succeeded: []string{"a"},
			failed:    []string{"b", "c"},
			want:      "Rollback partial success: succeeded on a; failed on b, c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := rollbackDetails(tt.succeeded, tt.failed); got != tt.want {
				t.Errorf("rollbackDetails() = %q, want %q", got, tt.want)
			}
		})
	}
}
