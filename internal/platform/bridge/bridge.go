package bridge

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/BetaCatPro/livelink/internal/conn"
	"github.com/BetaCatPro/livelink/internal/errors"
	"github.com/BetaCatPro/livelink/internal/utils"
	"github.com/BetaCatPro/livelink/pkg/types"
	"go.uber.org/atomic"
)

// RoomPlaceholder 命令参数里的房间号占位符
const RoomPlaceholder = "{room}"

const maxLineSize = 1 << 20

// Options 子进程桥接选项
type Options struct {
	Name    string   // 平台名，默认 bridge
	Command string   // 可执行文件
	Args    []string // 参数，{room} 会被替换成房间号
	Dir     string
	Env     []string // 追加到当前环境变量之后
	Logger  *slog.Logger
}

// Platform 通过外部子进程接入直播间，子进程按行输出 JSON 事件
type Platform struct {
	config types.Config
	opts   Options
	logger *slog.Logger
	now    func() time.Time
}

// New 创建子进程桥接平台
func New(config types.Config, opts Options) *Platform {
	if opts.Name == "" {
		opts.Name = "bridge"
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Platform{
		config: config,
		opts:   opts,
		logger: logger.With("platform", opts.Name),
		now:    time.Now,
	}
}

func (p *Platform) Name() string { return p.opts.Name }

// RoomStatus 无法远程查询，只检查桥接程序是否可执行
func (p *Platform) RoomStatus(ctx context.Context, roomID string) (types.RoomStatus, error) {
	if _, err := exec.LookPath(p.opts.Command); err != nil {
		return types.RoomStatus{}, fmt.Errorf("%w: bridge command unavailable: %v", errors.ErrHandshake, err)
	}
	return types.RoomStatus{RoomID: roomID, Live: true}, nil
}

// Connect 启动一个子进程
func (p *Platform) Connect(ctx context.Context, roomID string) (conn.Transport, error) {
	args := make([]string, len(p.opts.Args))
	for i, a := range p.opts.Args {
		args[i] = strings.ReplaceAll(a, RoomPlaceholder, roomID)
	}

	cmd := exec.Command(p.opts.Command, args...)
	cmd.Dir = p.opts.Dir
	if len(p.opts.Env) > 0 {
		cmd.Env = append(os.Environ(), p.opts.Env...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", errors.ErrHandshake, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", errors.ErrHandshake, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", errors.ErrHandshake, p.opts.Command, err)
	}

	logger := p.logger.With("room_id", roomID, "pid", cmd.Process.Pid)
	logger.Info("bridge process started", "command", p.opts.Command, "args", args)
	return &Process{
		cmd:    cmd,
		stdout: stdout,
		stderr: stderr,
		roomID: roomID,
		logger: logger,
		now:    p.now,
	}, nil
}

// Process 一个运行中的桥接子进程
type Process struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser
	roomID string
	logger *slog.Logger
	now    func() time.Time

	stopped     atomic.Bool
	rateLimited atomic.Bool
	stopOnce    sync.Once
}

func (p *Process) noteRateLimit(line string) {
	if IsRateLimit(line) && !p.rateLimited.Swap(true) {
		p.logger.Warn("bridge reported rate limiting")
	}
}

// Run 逐行读取子进程输出直到进程退出，退出时补发一条 control/ended
func (p *Process) Run(handler func(types.Message)) error {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		p.forwardStderr()
	}()

	scanner := bufio.NewScanner(p.stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		msg, ok, err := ParseEvent(p.roomID, []byte(line), p.now())
		if errors.Is(err, ErrMissingUser) {
			p.logger.Warn("skip event without user", "line", line)
			continue
		}
		if err != nil || !ok {
			p.noteRateLimit(line)
		}
		if err != nil {
			// 不是 JSON，当普通日志
			p.logger.Info("bridge output", "line", line)
			continue
		}
		if ok && handler != nil {
			handler(msg)
		}
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("read bridge output failed", "error", err)
	}

	wg.Wait()
	waitErr := p.cmd.Wait()
	p.logger.Info("bridge process exited", "error", waitErr)

	if handler != nil {
		handler(types.Message{
			ID:        utils.GenerateMessageID(),
			Type:      types.CategoryControl,
			RoomID:    p.roomID,
			Status:    types.ControlEnded,
			Timestamp: types.Timestamp(p.now()),
		})
	}

	if p.stopped.Load() {
		return errors.ErrConnectionClosed
	}
	if p.rateLimited.Load() {
		return fmt.Errorf("%w: bridge exited: %v", errors.ErrRateLimited, waitErr)
	}
	if waitErr != nil {
		return fmt.Errorf("%w: bridge exited: %v", errors.ErrRoomEnded, waitErr)
	}
	return errors.ErrRoomEnded
}

func (p *Process) forwardStderr() {
	scanner := bufio.NewScanner(p.stderr)
	scanner.Buffer(make([]byte, 0, 4096), maxLineSize)
	for scanner.Scan() {
		if line := strings.TrimSpace(scanner.Text()); line != "" {
			p.noteRateLimit(line)
			p.logger.Warn("bridge stderr", "line", line)
		}
	}
}

// Disconnect 结束子进程，可重复调用
func (p *Process) Disconnect() error {
	var err error
	p.stopOnce.Do(func() {
		p.stopped.Store(true)
		if p.cmd.Process == nil {
			return
		}
		if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
			err = fmt.Errorf("kill bridge process: %w", kerr)
		}
	})
	return err
}
