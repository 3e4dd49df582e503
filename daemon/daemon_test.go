package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func TestStopDaemonWithoutPIDFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("USERPROFILE", os.Getenv("HOME"))

	if err := StopDaemon(); err != nil {
		t.Fatalf("StopDaemon() = %v, want nil", err)
	}
}

func TestReadPID(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		write   bool
		want    int
		wantErr bool
	}{
		{name: "missing", want: 0},
		{name: "valid", content: "4242", write: true, want: 4242},
		{name: "trailing newline", content: "17\n", write: true, want: 17},
		{name: "garbage", content: "not a pid", write: true, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			if tt.write {
				if err := os.WriteFile(path, []byte(tt.content), 0644); err != nil {
					t.Fatal(err)
				}
			}
			got, err := readPID(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("readPID() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("readPID() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestStopDaemonRejectsCorruptPIDFile(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("USERPROFILE", home)

	pidFile, err := pidFilePath()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Dir(pidFile), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(pidFile, []byte("garbage"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := StopDaemon(); err == nil {
		t.Error("StopDaemon() with a corrupt pid file returned nil")
	}
}
