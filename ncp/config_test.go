package ncp_test

import (
	"testing"
	"time"

	"go.uber.org/mock/gomock"

	"i4.energy/across/lorancp/gpio"
	"i4.energy/across/lorancp/ncp"
	"i4.energy/across/lorancp/stm32"
)

func TestConfig(t *testing.T) {
	t.Run("ErrNoDialer when no dialer provided", func(t *testing.T) {
		_, err := ncp.NewConfigBuilder().Build()

		if err != ncp.ErrNoDialer {
			t.Errorf("expected ErrNoDialer, got: %v", err)
		}
	})

	t.Run("ErrNoGPIO when no gpio controller provided", func(t *testing.T) {
		ctrl := gomock.NewController(t)

		_, err := ncp.NewConfigBuilder().
			WithDialer(ncp.NewMockDialer(ctrl)).
			Build()

		if err != ncp.ErrNoGPIO {
			t.Errorf("expected ErrNoGPIO, got: %v", err)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		ctrl := gomock.NewController(t)

		config, err := ncp.NewConfigBuilder().
			WithDialer(ncp.NewMockDialer(ctrl)).
			WithGPIO(gpio.NewMockController(ctrl)).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		durations := []struct {
			name string
			got  time.Duration
			want time.Duration
		}{
			{"ATTimeout", config.ATTimeout, 2 * time.Second},
			{"QueryTimeout", config.QueryTimeout, time.Second},
			{"LivenessTimeout", config.LivenessTimeout, 10 * time.Second},
			{"LivenessPeriod", config.LivenessPeriod, time.Second},
			{"ResetDwell", config.ResetDwell, 500 * time.Millisecond},
			{"BootDrain", config.BootDrain, 2 * time.Second},
			{"JoinWindow", config.JoinWindow, 10 * time.Second},
		}
		for _, d := range durations {
			if d.got != d.want {
				t.Errorf("%s = %v, want %v", d.name, d.got, d.want)
			}
		}

		if config.OutputPower != 3 || config.Band != 8 || config.DataRate != 3 {
			t.Errorf("unexpected radio defaults: power %d band %d dr %d", config.OutputPower, config.Band, config.DataRate)
		}
		if config.Class != "C" {
			t.Errorf("Class = %q, want C", config.Class)
		}
		if config.ModelPrefix != "KG200Z" {
			t.Errorf("ModelPrefix = %q, want KG200Z", config.ModelPrefix)
		}
		if config.RxPort != 223 || config.MaxPayload != 242 {
			t.Errorf("RxPort %d MaxPayload %d", config.RxPort, config.MaxPayload)
		}
		if config.FlashFlags != stm32.BootNonInverted {
			t.Errorf("FlashFlags = %d, want BootNonInverted", config.FlashFlags)
		}
		if config.Session == nil || config.Logger == nil || config.Clock == nil || config.Yield == nil {
			t.Error("expected session, logger, clock and yield defaults")
		}
		if config.ATMode == nil || config.ATMode.BaudRate != 9600 {
			t.Errorf("unexpected AT mode: %+v", config.ATMode)
		}
	})

	t.Run("overrides", func(t *testing.T) {
		ctrl := gomock.NewController(t)
		sel := gpio.Pin{Bank: 2, Num: 7}

		config, err := ncp.NewConfigBuilder().
			WithDialer(ncp.NewMockDialer(ctrl)).
			WithGPIO(gpio.NewMockController(ctrl)).
			WithBusSelect(sel).
			WithRadio(14, 5, 2).
			WithClass("A").
			WithJoinWindow(30 * time.Second).
			WithFlashFlags(stm32.ResetNonInverted).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		if config.BusSelectPin == nil || *config.BusSelectPin != sel {
			t.Errorf("BusSelectPin = %v, want %v", config.BusSelectPin, sel)
		}
		if config.OutputPower != 14 || config.Band != 5 || config.DataRate != 2 {
			t.Errorf("radio overrides not applied: %+v", config)
		}
		if config.Class != "A" || config.JoinWindow != 30*time.Second {
			t.Errorf("class %q window %v", config.Class, config.JoinWindow)
		}
		if config.FlashFlags != stm32.ResetNonInverted {
			t.Errorf("FlashFlags = %d", config.FlashFlags)
		}
	})

	t.Run("zero radio settings and flags are kept", func(t *testing.T) {
		ctrl := gomock.NewController(t)

		config, err := ncp.NewConfigBuilder().
			WithDialer(ncp.NewMockDialer(ctrl)).
			WithGPIO(gpio.NewMockController(ctrl)).
			WithRadio(0, 0, 0).
			WithFlashFlags(0).
			Build()
		if err != nil {
			t.Fatalf("unexpected error from Build(): %v", err)
		}

		if config.OutputPower != 0 || config.Band != 0 || config.DataRate != 0 {
			t.Errorf("zero radio settings replaced: power %d band %d dr %d", config.OutputPower, config.Band, config.DataRate)
		}
		if config.FlashFlags != 0 {
			t.Errorf("FlashFlags = %d, want 0", config.FlashFlags)
		}
	})
}
