package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"runtime"

	"github.com/vulkan-go/glfw/v3.3/glfw"

	"Marcher/internal/app"
	"Marcher/internal/config"
)

func init() {
	// GLFW/Vulkan require the main thread.
	runtime.LockOSThread()
}

func main() {
	configPath := flag.String("config", "", "path to a TOML config file")
	printConfig := flag.Bool("print-config", false, "print the effective config and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	if *printConfig {
		out, err := cfg.Encode()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	level, _ := cfg.Level()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *slog.Logger) error {
	keys, err := newBindings(cfg.Input)
	if err != nil {
		return fmt.Errorf("input bindings: %w", err)
	}

	if err := glfw.Init(); err != nil {
		return fmt.Errorf("init glfw: %w", err)
	}
	defer glfw.Terminate()

	glfw.WindowHint(glfw.ClientAPI, glfw.NoAPI)
	window, err := glfw.CreateWindow(cfg.Window.Width, cfg.Window.Height, cfg.Window.Title, nil, nil)
	if err != nil {
		return fmt.Errorf("create window: %w", err)
	}
	defer window.Destroy()

	// Ensure the framebuffer has a non-zero size before initializing Vulkan.
	for {
		w, h := window.GetFramebufferSize()
		if w > 0 && h > 0 {
			break
		}
		glfw.WaitEventsTimeout(0.01)
	}

	dev, err := newVulkanDevice(window, deviceConfig{
		validation: cfg.Vulkan.Validation,
		shaderDir:  cfg.Vulkan.ShaderDir,
		appName:    cfg.Window.Title,
	}, log)
	if err != nil {
		return fmt.Errorf("init vulkan: %w", err)
	}
	defer dev.Cleanup()

	win := glfwWindow{window}
	a, err := app.New(cfg, dev, win, app.WithCursor(win), app.WithLogger(log))
	if err != nil {
		return err
	}
	keys.attach(window, a)

	log.Info("entering main loop", "size", a.Surface.Swapchain().Extent())
	clock := app.NewClock()
	for !window.ShouldClose() {
		glfw.PollEvents()
		if _, err := a.Tick(clock.Lap()); err != nil {
			return a.Abort(fmt.Errorf("draw frame: %w", err))
		}
		if a.Stats.Updated() {
			window.SetTitle(fmt.Sprintf("%s - %.0f fps", cfg.Window.Title, a.Stats.FPS()))
		}
	}
	return a.Close()
}
