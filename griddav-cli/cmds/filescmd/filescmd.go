package filescmd

import (
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"github.com/cernbox/griddav/griddav-cli/util"
	"github.com/ryanuber/columnize"
	"github.com/studio-b12/gowebdav"
	"github.com/urfave/cli"
)

var ListCommand = cli.Command{
	Name:      "ls",
	Aliases:   []string{"list"},
	Usage:     "List a collection",
	ArgsUsage: "Usage: ls <path>",
	Action:    list,
}

var StatCommand = cli.Command{
	Name:      "stat",
	Usage:     "Show the metadata of a file or collection",
	ArgsUsage: "Usage: stat <path>",
	Action:    stat,
}

var GetCommand = cli.Command{
	Name:      "get",
	Aliases:   []string{"download"},
	Usage:     "Download a file",
	ArgsUsage: "Usage: get <remote-path> <local-path>",
	Action:    get,
}

var PutCommand = cli.Command{
	Name:      "put",
	Aliases:   []string{"upload"},
	Usage:     "Upload a file",
	ArgsUsage: "Usage: put <local-path> <remote-path>",
	Action:    put,
}

var MkdirCommand = cli.Command{
	Name:      "mkdir",
	Usage:     "Create a collection",
	ArgsUsage: "Usage: mkdir <path>",
	Action:    mkdir,
}

var RemoveCommand = cli.Command{
	Name:      "rm",
	Aliases:   []string{"delete"},
	Usage:     "Remove a file or a collection",
	ArgsUsage: "Usage: rm <path>",
	Action:    remove,
}

var MoveCommand = cli.Command{
	Name:      "mv",
	Aliases:   []string{"move"},
	Usage:     "Move or rename a file or collection",
	ArgsUsage: "Usage: mv <source> <destination>",
	Action:    moveFile,
}

var CopyCommand = cli.Command{
	Name:      "cp",
	Aliases:   []string{"copy"},
	Usage:     "Copy a file or collection",
	ArgsUsage: "Usage: cp <source> <destination>",
	Action:    copyFile,
}

func list(c *cli.Context) error {
	p := c.Args().First()
	if p == "" {
		return cli.NewExitError(c.Command.ArgsUsage, 1)
	}
	client, err := util.GetClient()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	infos, err := client.ReadDir(p)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	lines := []string{"#Type|Size|Modified|Name"}
	for _, fi := range infos {
		lines = append(lines, line(fi))
	}
	fmt.Fprintln(c.App.Writer, columnize.SimpleFormat(lines))
	return nil
}

func stat(c *cli.Context) error {
	p := c.Args().First()
	if p == "" {
		return cli.NewExitError(c.Command.ArgsUsage, 1)
	}
	client, err := util.GetClient()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	fi, err := client.Stat(p)
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	lines := []string{"#Type|Size|Modified|Name", line(fi)}
	if f, ok := fi.(*gowebdav.File); ok {
		lines[0] += "|ContentType|ETag"
		lines[1] += fmt.Sprintf("|%s|%s", f.ContentType(), f.ETag())
	}
	fmt.Fprintln(c.App.Writer, columnize.SimpleFormat(lines))
	return nil
}

func line(fi os.FileInfo) string {
	t := "file"
	if fi.IsDir() {
		t = "dir"
	}
	return fmt.Sprintf("%s|%d|%s|%s", t, fi.Size(), fi.ModTime().Format(time.RFC3339), fi.Name())
}

func get(c *cli.Context) error {
	if len(c.Args()) < 2 {
		return cli.NewExitError(c.Command.ArgsUsage, 1)
	}
	remote, local := c.Args().Get(0), c.Args().Get(1)
	client, err := util.GetClient()
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	rc, err := client.ReadStream(remote)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer rc.Close()

	var w io.Writer = c.App.Writer
	if local != "-" {
		fd, err := os.OpenFile(local, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
		if err != nil {
			return cli.NewExitError(err, 1)
		}
		defer fd.Close()
		w = fd
	}
	if _, err := io.Copy(w, rc); err != nil {
		return cli.NewExitError(err, 1)
	}
	return nil
}

func put(c *cli.Context) error {
	if len(c.Args()) < 2 {
		return cli.NewExitError(c.Command.ArgsUsage, 1)
	}
	local, remote := c.Args().Get(0), c.Args().Get(1)
	client, err := util.GetClient()
	if err != nil {
		return cli.NewExitError(err, 1)
	}

	fd, err := os.Open(local)
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	defer fd.Close()

	if err := client.WriteStream(remote, fd, 0644); err != nil {
		return cli.NewExitError(err, 1)
	}
	fmt.Fprintf(c.App.Writer, "uploaded %s to %s\n", local, path.Clean(remote))
	return nil
}

func mkdir(c *cli.Context) error {
	p := c.Args().First()
	if p == "" {
		return cli.NewExitError(c.Command.ArgsUsage, 1)
	}
	client, err := util.GetClient()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := client.Mkdir(p, 0755); err != nil {
		return cli.NewExitError(err, 1)
	}
	return nil
}

func remove(c *cli.Context) error {
	p := c.Args().First()
	if p == "" {
		return cli.NewExitError(c.Command.ArgsUsage, 1)
	}
	client, err := util.GetClient()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := client.Remove(p); err != nil {
		return cli.NewExitError(err, 1)
	}
	return nil
}

func moveFile(c *cli.Context) error {
	if len(c.Args()) < 2 {
		return cli.NewExitError(c.Command.ArgsUsage, 1)
	}
	client, err := util.GetClient()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := client.Rename(c.Args().Get(0), c.Args().Get(1), true); err != nil {
		return cli.NewExitError(err, 1)
	}
	return nil
}

func copyFile(c *cli.Context) error {
	if len(c.Args()) < 2 {
		return cli.NewExitError(c.Command.ArgsUsage, 1)
	}
	client, err := util.GetClient()
	if err != nil {
		return cli.NewExitError(err, 1)
	}
	if err := client.Copy(c.Args().Get(0), c.Args().Get(1), true); err != nil {
		return cli.NewExitError(err, 1)
	}
	return nil
}
