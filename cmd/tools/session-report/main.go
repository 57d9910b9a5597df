// Command session-report renders an HTML report for one stored targeting
// session: the track path across the image, the per-frame confidence and
// the predicted/matched split.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/osprey-dynamics/sightline/internal/db"
)

var (
	dbPath    = flag.String("db", "sightline.db", "Path to sqlite database")
	sessionID = flag.String("session", "", "Session ID (default: most recent)")
	outPath   = flag.String("out", "session-report.html", "Output HTML file")
	list      = flag.Bool("list", false, "List stored sessions and exit")
)

func main() {
	flag.Parse()

	store, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer store.Close()

	if *list {
		sessions, err := store.Sessions(50)
		if err != nil {
			log.Fatalf("failed to list sessions: %v", err)
		}
		for _, s := range sessions {
			fmt.Println(s.String())
		}
		return
	}

	session, err := pickSession(store, *sessionID)
	if err != nil {
		log.Fatal(err)
	}

	obs, err := store.Observations(session.SessionID)
	if err != nil {
		log.Fatalf("failed to load observations: %v", err)
	}
	if len(obs) == 0 {
		log.Fatalf("session %s has no observations", session.SessionID)
	}

	page := components.NewPage()
	page.AddCharts(
		trackPathChart(session, obs),
		confidenceChart(obs),
	)

	f, err := os.Create(*outPath)
	if err != nil {
		log.Fatalf("failed to create output file: %v", err)
	}
	defer f.Close()

	if err := page.Render(f); err != nil {
		log.Fatalf("failed to render report: %v", err)
	}
	log.Printf("wrote %s (%d observations, session %s)", *outPath, len(obs), session.SessionID)
}

func pickSession(store *db.DB, id string) (db.Session, error) {
	sessions, err := store.Sessions(50)
	if err != nil {
		return db.Session{}, fmt.Errorf("failed to list sessions: %w", err)
	}
	if len(sessions) == 0 {
		return db.Session{}, fmt.Errorf("no sessions in %s", *dbPath)
	}
	if id == "" {
		return sessions[0], nil
	}
	for _, s := range sessions {
		if s.SessionID == id {
			return s, nil
		}
	}
	return db.Session{}, fmt.Errorf("session %s not found", id)
}

// trackPathChart plots the target path in image coordinates, coloured by
// match confidence, with predicted points as a separate series.
func trackPathChart(session db.Session, obs []db.Observation) *charts.Scatter {
	matched := make([]opts.ScatterData, 0, len(obs))
	predicted := make([]opts.ScatterData, 0)
	for _, o := range obs {
		pt := opts.ScatterData{Value: []interface{}{o.X, o.Y, o.Confidence}}
		if o.Predicted {
			predicted = append(predicted, pt)
		} else {
			matched = append(matched, pt)
		}
	}

	scatter := charts.NewScatter()
	scatter.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Targeting Session", Width: "900px", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Track Path",
			Subtitle: fmt.Sprintf("session=%s frames=%d", session.SessionID, len(obs)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Min: 0, Max: session.ImageWidth, Name: "X (px)"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: session.ImageHeight, Name: "Y (px)"}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        1,
			Dimension:  "2",
		}),
	)
	scatter.AddSeries("matched", matched, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 6}))
	scatter.AddSeries("predicted", predicted, charts.WithScatterChartOpts(opts.ScatterChart{SymbolSize: 8}))
	return scatter
}

// confidenceChart plots match confidence over frames.
func confidenceChart(obs []db.Observation) *charts.Line {
	frames := make([]int, len(obs))
	conf := make([]opts.LineData, len(obs))
	for i, o := range obs {
		frames[i] = o.Frame
		conf[i] = opts.LineData{Value: o.Confidence}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "900px", Height: "400px"}),
		charts.WithTitleOpts(opts.Title{Title: "Match Confidence"}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
		charts.WithYAxisOpts(opts.YAxis{Min: 0, Max: 1}),
	)
	line.SetXAxis(frames).AddSeries("confidence", conf)
	return line
}
