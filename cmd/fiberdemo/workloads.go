package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/urfave/cli/v2"

	fibersched "github.com/Swind/go-fiber-scheduler"
	"github.com/Swind/go-fiber-scheduler/core"
)

type addition struct {
	a, b int
	sum  *atomic.Int64
}

func add(_ context.Context, data any) {
	op := data.(*addition)
	op.sum.Add(int64(op.a + op.b))
}

func additions(sum *atomic.Int64) []fibersched.Task {
	pairs := [][2]int{{1, 2}, {3, 4}, {5, 6}, {7, 8}, {9, 0}}
	tasks := make([]fibersched.Task, len(pairs))
	for i, p := range pairs {
		tasks[i] = fibersched.NewTask(add, &addition{a: p[0], b: p[1], sum: sum})
		tasks[i].Name = fmt.Sprintf("add-%d-%d", p[0], p[1])
	}
	return tasks
}

func sumCommand() *cli.Command {
	return &cli.Command{
		Name:  "sum",
		Usage: "Add five pairs of digits from the main thread",
		Action: func(c *cli.Context) error {
			d, err := startDemo(c)
			if err != nil {
				return err
			}
			defer d.stop()

			var sum atomic.Int64
			counter, err := fibersched.RunTasks(context.Background(), additions(&sum))
			if err != nil {
				return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
			}
			if err := waitMain(counter); err != nil {
				return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
			}
			fmt.Printf("sum = %d\n", sum.Load())
			return nil
		},
	}
}

func nestedCommand() *cli.Command {
	return &cli.Command{
		Name:  "nested",
		Usage: "Add the pairs from inside a task, then shut the workers down from that task",
		Action: func(c *cli.Context) error {
			d, err := startDemo(c)
			if err != nil {
				return err
			}
			defer d.stop()

			var sum atomic.Int64
			var failed atomic.Value
			root := fibersched.NewTaskFunc(func(ctx context.Context) {
				counter, err := fibersched.RunTasks(ctx, additions(&sum))
				if err == nil {
					err = fibersched.WaitForCounter(ctx, counter, 0)
				}
				if err != nil {
					failed.Store(err)
				}
				_ = fibersched.SignalQuitAll()
			})
			root.Name = "shutdown"

			counter, err := fibersched.RunTasks(context.Background(), []fibersched.Task{root})
			if err != nil {
				return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
			}
			if err := waitMain(counter); err != nil {
				return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
			}
			_ = fibersched.WaitAll()
			if v := failed.Load(); v != nil {
				return cli.Exit(fmt.Sprintf("Failed: %v", v), 1)
			}
			fmt.Printf("sum = %d, workers joined\n", sum.Load())
			return nil
		},
	}
}

func fanoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "fanout",
		Usage: "Spawn a task tree and wait on every level from inside fibers",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "depth", Value: 4, Usage: "Tree depth"},
			&cli.IntFlag{Name: "width", Value: 4, Usage: "Children per task"},
		},
		Action: func(c *cli.Context) error {
			depth, width := c.Int("depth"), c.Int("width")
			if depth < 0 || width < 1 {
				return cli.Exit("depth must be >= 0 and width >= 1", 1)
			}

			d, err := startDemo(c)
			if err != nil {
				return err
			}
			defer d.stop()

			var leaves atomic.Int64
			var spawn func(ctx context.Context, level int)
			spawn = func(ctx context.Context, level int) {
				if level == depth {
					leaves.Add(1)
					return
				}
				children := make([]fibersched.Task, width)
				for i := range children {
					children[i] = fibersched.NewTaskFunc(func(ctx context.Context) { spawn(ctx, level+1) })
					children[i].Name = fmt.Sprintf("level-%d", level+1)
				}
				counter, err := fibersched.RunTasks(ctx, children)
				if err != nil {
					d.logger.Error("Spawn failed", core.F("level", level), core.F("error", err))
					return
				}
				if err := fibersched.WaitForCounter(ctx, counter, 0); err != nil {
					d.logger.Error("Wait failed", core.F("level", level), core.F("error", err))
				}
			}

			start := time.Now()
			root := fibersched.NewTaskFunc(func(ctx context.Context) { spawn(ctx, 0) })
			root.Name = "level-0"
			counter, err := fibersched.RunTasks(context.Background(), []fibersched.Task{root})
			if err != nil {
				return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
			}
			if err := waitMain(counter); err != nil {
				return cli.Exit(fmt.Sprintf("Failed: %v", err), 1)
			}

			st := fibersched.GetTaskScheduler().Stats()
			fmt.Printf("leaves = %d in %s (submitted %d, panicked %d)\n",
				leaves.Load(), time.Since(start).Round(time.Microsecond), st.TasksSubmitted, st.TasksPanicked)
			return nil
		},
	}
}
