package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vsariola/kantele"
	"github.com/vsariola/kantele/engine"
	"github.com/vsariola/kantele/orc"
	"github.com/vsariola/kantele/oto"
	"github.com/vsariola/kantele/report"
	"github.com/vsariola/kantele/version"
)

func main() {
	stdout := flag.Bool("s", false, "Do not write files; write to standard output instead.")
	help := flag.Bool("h", false, "Show help.")
	directory := flag.String("o", "", "Directory where to output all files. The directory and its parents are created if needed. By default, everything is placed in the working directory.")
	play := flag.Bool("p", false, "Play the input programs (default behaviour when no other output is defined).")
	rawOut := flag.Bool("r", false, "Output the rendered performance as .raw file. By default, saves stereo float32 buffer to disk.")
	wavOut := flag.Bool("w", false, "Output the rendered performance as .wav file. By default, saves stereo float32 buffer to disk.")
	pcm := flag.Bool("c", false, "Convert audio to 16-bit signed PCM when outputting.")
	listing := flag.Bool("l", false, "Print the compiled instrument listing.")
	inject := flag.String("inject", "", "Orchestra or .csd `file` compiled into the performance after its first block; its score, if any, is appended too.")
	maxSeconds := flag.Float64("max", 600, "Shut the performance down after this many `seconds`, ending held notes.")
	versionFlag := flag.Bool("v", false, "Print version.")
	flag.Usage = printUsage
	flag.Parse()
	if *versionFlag {
		fmt.Println(version.Current)
		os.Exit(0)
	}
	if flag.NArg() == 0 || *help {
		flag.Usage()
		os.Exit(0)
	}
	if !*rawOut && !*wavOut && !*listing {
		*play = true // if the user gives nothing to output, then the default behaviour is just to play the file
	}
	var injected string
	if *inject != "" {
		data, err := os.ReadFile(*inject)
		if err != nil {
			fmt.Fprintf(os.Stderr, "could not read file %v: %v\n", *inject, err)
			os.Exit(1)
		}
		injected = string(data)
	}
	var reporter *report.Reporter
	if *listing {
		var err error
		if reporter, err = report.New(); err != nil {
			fmt.Fprintf(os.Stderr, "could not create the listing: %v\n", err)
			os.Exit(1)
		}
	}
	var audioContext kantele.AudioContext
	process := func(filename string) error {
		output := func(extension string, contents []byte) error {
			if *stdout {
				_, err := os.Stdout.Write(contents)
				return err
			}
			_, name := filepath.Split(filename)
			dir := *directory
			if dir == "" {
				var err error
				dir, err = os.Getwd()
				if err != nil {
					return fmt.Errorf("could not get working directory, specify the output directory explicitly: %v", err)
				}
			}
			name = strings.TrimSuffix(name, filepath.Ext(name)) + extension
			f := filepath.Join(dir, name)
			if err := os.MkdirAll(dir, os.ModePerm); err != nil {
				return fmt.Errorf("could not create output directory %v: %v", dir, err)
			}
			if err := os.WriteFile(f, contents, 0644); err != nil {
				return fmt.Errorf("could not write file %v: %v", f, err)
			}
			return nil
		}
		program, err := orc.ReadFile(filename)
		if err != nil {
			return err
		}
		e := engine.New(engine.Options{})
		defer e.Close()
		if err := e.Load(program); err != nil {
			return fmt.Errorf("could not load the program: %v", err)
		}
		header := e.Header()
		if *listing {
			if err := reporter.Listing(os.Stdout, e.Instruments()); err != nil {
				return err
			}
		}
		if !*play && !*rawOut && !*wavOut {
			return nil
		}
		maxBlocks := int(*maxSeconds * float64(header.SampleRate) / float64(header.Ksmps))
		buffer, err := render(e, injected, maxBlocks)
		if err != nil {
			return fmt.Errorf("rendering failed: %v", err)
		}
		if *play {
			if audioContext == nil {
				if audioContext, err = oto.NewContext(header.SampleRate); err != nil {
					return fmt.Errorf("could not acquire oto AudioContext: %v", err)
				}
			}
			playWaiter, err := audioContext.Play(buffer.Source())
			if err != nil {
				return fmt.Errorf("could not play: %v", err)
			}
			defer playWaiter.Wait()
		}
		if *rawOut {
			raw, err := buffer.Raw(kantele.FormatFor(header, *pcm))
			if err != nil {
				return fmt.Errorf("could not generate .raw file: %v", err)
			}
			if err := output(".raw", raw); err != nil {
				return fmt.Errorf("error outputting .raw file: %v", err)
			}
		}
		if *wavOut {
			wav, err := buffer.Wav(kantele.FormatFor(header, *pcm))
			if err != nil {
				return fmt.Errorf("could not generate .wav file: %v", err)
			}
			if err := output(".wav", wav); err != nil {
				return fmt.Errorf("error outputting .wav file: %v", err)
			}
		}
		return nil
	}
	retval := 0
	for _, param := range flag.Args() {
		if info, err := os.Stat(param); err == nil && info.IsDir() {
			var files []string
			for _, pattern := range []string{"*.csd", "*.orc", "*.yml"} {
				matches, err := filepath.Glob(filepath.Join(param, pattern))
				if err != nil {
					fmt.Fprintf(os.Stderr, "could not glob the path %v for %v files: %v\n", param, pattern, err)
					retval = 1
					continue
				}
				files = append(files, matches...)
			}
			for _, file := range files {
				if err := process(file); err != nil {
					fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", file, err)
					retval = 1
				}
			}
		} else {
			if err := process(param); err != nil {
				fmt.Fprintf(os.Stderr, "could not process file %v: %v\n", param, err)
				retval = 1
			}
		}
	}
	if audioContext != nil {
		audioContext.Close()
	}
	os.Exit(retval)
}

// render renders the whole performance. With injected text, the first
// block is rendered, the text is submitted as a live update and rendering
// continues; a failing update is reported but does not stop the
// performance.
func render(e *engine.Engine, injected string, maxBlocks int) (kantele.AudioBuffer, error) {
	if injected == "" {
		return engine.RenderAll(context.Background(), e, maxBlocks)
	}
	ksmps := e.Header().Ksmps
	out := [][]float32{make([]float32, ksmps), make([]float32, ksmps)}
	r := engine.NewReader(e)
	var buffer kantele.AudioBuffer
	for blocks := 0; ; blocks++ {
		if blocks == maxBlocks {
			e.Shutdown()
		}
		r.Fill(out, nil)
		if r.Finished() {
			return buffer, r.Err()
		}
		for i := range out[0] {
			buffer = append(buffer, [2]float32{out[0][i], out[1][i]})
		}
		if blocks == 0 {
			orchestra, score := orc.Split(injected)
			if _, err := e.SubmitCompile(orchestra); err != nil {
				fmt.Fprintf(os.Stderr, "injected orchestra rejected: %v\n", err)
			}
			if strings.TrimSpace(score) != "" {
				if _, err := e.SubmitScoreText(score); err != nil {
					fmt.Fprintf(os.Stderr, "injected score rejected: %v\n", err)
				}
			}
		}
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, "Kantele command line utility for rendering and playing .csd/.orc/.yml programs.\nUsage: %s [flags] [path ...]\n", os.Args[0])
	flag.PrintDefaults()
}
