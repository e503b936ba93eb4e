package controller

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/GNS3/vboxwrapper/pkg/vbox"
)

// StopStrategy performs the power-down half of a stop. The adapter cleanup
// that follows is strategy-independent and handled by the controller.
type StopStrategy interface {
	// PowerDown takes the VM process down. console may be nil when the
	// process already died out-of-band; strategies must tolerate that.
	PowerDown(vmName string, console vbox.Console) error
}

// GracefulStop powers the VM down through the API and synchronously awaits
// completion
type GracefulStop struct{}

func (GracefulStop) PowerDown(vmName string, console vbox.Console) error {
	if console == nil {
		return nil
	}
	progress, err := console.PowerDown()
	if err != nil {
		return fmt.Errorf("power down %s: %w", vmName, err)
	}
	return progress.WaitForCompletion(-1)
}

// KillStop stops the VM with an out-of-band management CLI command instead
// of the API call. The API power-down path crashes the engine service on
// some Windows hosts (engine bug 9239); hosts affected select this strategy
// through configuration or capability detection.
type KillStop struct {
	// Run executes the kill command; tests may replace it
	Run func(vmName string) error
}

func (k *KillStop) PowerDown(vmName string, console vbox.Console) error {
	run := k.Run
	if run == nil {
		run = runVBoxManagePowerOff
	}
	return run(vmName)
}

// runVBoxManagePowerOff shells out to the engine management CLI
func runVBoxManagePowerOff(vmName string) error {
	bin := "VBoxManage"
	if runtime.GOOS == "windows" {
		if installPath := os.Getenv("VBOX_INSTALL_PATH"); installPath != "" {
			bin = filepath.Join(installPath, "VBoxManage.exe")
		}
	}
	cmd := exec.Command(bin, "controlvm", vmName, "poweroff")
	if out, err := cmd.CombinedOutput(); err != nil {
		return fmt.Errorf("%s controlvm poweroff: %w (%s)", bin, err, out)
	}
	return nil
}

// DefaultStopStrategy picks the power-down path for this host. Windows hosts
// default to the out-of-band kill because of the engine service crash bug.
func DefaultStopStrategy() StopStrategy {
	if runtime.GOOS == "windows" {
		return &KillStop{}
	}
	return &GracefulStop{}
}
