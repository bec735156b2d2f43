package chart

import (
	"bytes"
	"errors"
	"fmt"

	gochart "github.com/wcharczuk/go-chart/v2"

	"github.com/stellarlinkco/chatkeeper/internal/store"
)

const (
	ActivityTitle = "Percentage of Messages Sent by Each User"

	width  = 800
	height = 600
)

var ErrNoData = errors.New("no activity data")

// ActivityPie renders the share of messages per user as a PNG pie chart.
func ActivityPie(title string, activity []store.UserActivity) ([]byte, error) {
	values := make([]gochart.Value, 0, len(activity))
	total := 0
	for _, u := range activity {
		if u.Count <= 0 {
			continue
		}
		total += u.Count
		values = append(values, gochart.Value{Value: float64(u.Count), Label: u.DisplayName()})
	}
	if len(values) == 0 {
		return nil, ErrNoData
	}
	for i := range values {
		values[i].Label = fmt.Sprintf("%s (%.1f%%)", values[i].Label, values[i].Value*100/float64(total))
	}

	pie := gochart.PieChart{
		Title:  title,
		Width:  width,
		Height: height,
		Values: values,
	}

	var buf bytes.Buffer
	if err := pie.Render(gochart.PNG, &buf); err != nil {
		return nil, fmt.Errorf("render activity chart: %w", err)
	}
	return buf.Bytes(), nil
}
