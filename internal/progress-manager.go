package internal

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spool-dl/spool/utils"
)

type ProgressInfo struct {
	Name          string
	TotalSize     int64 // -1 when the server did not advertise a length
	Downloaded    int64
	Speed         float64
	Completed     bool
	CompletedSize int64
	Failure       string
	StartTime     time.Time
}

type ProgressManager struct {
	progressMap     map[string]*ProgressInfo
	mutex           sync.RWMutex
	doneCh          chan struct{}
	lastUpdateTimes map[string]time.Time
	lastDownloaded  map[string]int64
	numLines        int
}

func NewProgressManager() *ProgressManager {
	return &ProgressManager{
		progressMap:     make(map[string]*ProgressInfo),
		doneCh:          make(chan struct{}),
		lastUpdateTimes: make(map[string]time.Time),
		lastDownloaded:  make(map[string]int64),
	}
}

func (pm *ProgressManager) Register(jobID string, name string, totalSize int64) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	pm.progressMap[jobID] = &ProgressInfo{
		Name:      name,
		TotalSize: totalSize,
		StartTime: time.Now(),
	}
	pm.lastUpdateTimes[jobID] = time.Now()
	pm.lastDownloaded[jobID] = 0
}

// Update records the cumulative byte count reported by the engine.
func (pm *ProgressManager) Update(jobID string, downloaded int64) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	if info, exists := pm.progressMap[jobID]; exists {
		info.Downloaded = downloaded
	}
}

func (pm *ProgressManager) Complete(jobID string, totalDownloaded int64) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	if info, exists := pm.progressMap[jobID]; exists {
		info.Completed = true
		info.CompletedSize = totalDownloaded
	}
}

func (pm *ProgressManager) ReportError(jobID string, err error) {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	if info, exists := pm.progressMap[jobID]; exists {
		info.Completed = true
		info.Failure = fmt.Sprintf("Error: %v", err)
	}
}

func (pm *ProgressManager) StartDisplay() {
	go func() {
		ticker := time.NewTicker(500 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				pm.updateDisplay()
			case <-pm.doneCh:
				return
			}
		}
	}()
}

func (pm *ProgressManager) Stop() {
	close(pm.doneCh)
}

func (pm *ProgressManager) updateDisplay() {
	pm.mutex.Lock()
	defer pm.mutex.Unlock()
	if pm.numLines != 0 {
		fmt.Printf("\033[%dA\033[J", pm.numLines)
	}
	var activeKeys []string
	var completedKeys []string
	var waitingKeys []string
	for jobID, info := range pm.progressMap {
		if info.Completed {
			completedKeys = append(completedKeys, jobID)
		} else if info.Downloaded > 0 {
			activeKeys = append(activeKeys, jobID)
		} else {
			waitingKeys = append(waitingKeys, jobID)
		}
	}
	sort.Strings(activeKeys)
	sort.Strings(completedKeys)
	sort.Strings(waitingKeys)

	width := utils.TerminalWidth()
	for _, jobID := range activeKeys {
		info := pm.progressMap[jobID]
		now := time.Now()
		lastTime := pm.lastUpdateTimes[jobID]
		timeDiff := now.Sub(lastTime).Seconds()
		if timeDiff > 0 {
			byteDiff := info.Downloaded - pm.lastDownloaded[jobID]
			info.Speed = float64(byteDiff) / timeDiff / 1024 / 1024 // MB/s
			pm.lastUpdateTimes[jobID] = now
			pm.lastDownloaded[jobID] = info.Downloaded
		}
		line := pm.renderActive(info)
		if len(line) > width {
			line = line[:width]
		}
		fmt.Println(utils.FSuccess(line))
	}
	for _, jobID := range completedKeys {
		info := pm.progressMap[jobID]
		if info.Failure != "" {
			fmt.Println(utils.FError(fmt.Sprintf("%s %s  %s", utils.StyleSymbols["fail"], displayName(info.Name), info.Failure)))
		} else {
			fmt.Println(utils.FSuccess(fmt.Sprintf("%s %s  Size: %s", utils.StyleSymbols["pass"], displayName(info.Name), utils.FormatBytes(uint64(info.CompletedSize)))))
		}
	}
	for _, jobID := range waitingKeys {
		info := pm.progressMap[jobID]
		fmt.Println(utils.FStream(fmt.Sprintf("%s %s  waiting", utils.StyleSymbols["pending"], displayName(info.Name))))
	}
	pm.numLines = len(activeKeys) + len(completedKeys) + len(waitingKeys)
}

func (pm *ProgressManager) renderActive(info *ProgressInfo) string {
	const progressWidth = 30
	name := displayName(info.Name)
	if info.TotalSize > 0 {
		percent := float64(info.Downloaded) / float64(info.TotalSize)
		if percent > 1 {
			percent = 1
		}
		filledWidth := int(percent * float64(progressWidth))
		bar := "[" + strings.Repeat("=", filledWidth)
		if filledWidth < progressWidth {
			bar += ">" + strings.Repeat(" ", progressWidth-filledWidth-1)
		}
		bar += "]"
		return fmt.Sprintf("%s: %s %.1f%% %s/%s %.2f MB/s ETA: %s", name, bar, percent*100,
			utils.FormatBytes(uint64(info.Downloaded)), utils.FormatBytes(uint64(info.TotalSize)), info.Speed, eta(info))
	}
	// total size unknown
	bar := "[" + strings.Repeat(" ", 10) + strings.Repeat("*", 10) + strings.Repeat(" ", 9) + "]"
	return fmt.Sprintf("%s: %s %s %.2f MB/s", name, bar, utils.FormatBytes(uint64(info.Downloaded)), info.Speed)
}

func eta(info *ProgressInfo) string {
	if info.Speed <= 0 || info.TotalSize <= 0 {
		return "calculating..."
	}
	etaSeconds := int64(float64(info.TotalSize-info.Downloaded) / (info.Speed * 1024 * 1024))
	if etaSeconds < 60 {
		return fmt.Sprintf("%ds", etaSeconds)
	} else if etaSeconds < 3600 {
		return fmt.Sprintf("%dm %ds", etaSeconds/60, etaSeconds%60)
	}
	return fmt.Sprintf("%dh %dm", etaSeconds/3600, (etaSeconds%3600)/60)
}

func displayName(name string) string {
	if len(name) > 25 {
		return "..." + name[len(name)-22:]
	}
	return name
}

func (pm *ProgressManager) ShowSummary() {
	pm.mutex.RLock()
	defer pm.mutex.RUnlock()
	var totalSize int64
	var failures int
	elapsed := float64(0)
	for _, info := range pm.progressMap {
		if since := time.Since(info.StartTime).Seconds(); since > elapsed {
			elapsed = since
		}
		totalSize += info.CompletedSize
		if info.Failure != "" {
			failures++
		}
	}
	fmt.Println()
	utils.PrintInfo(fmt.Sprintf("Downloaded %s across %d file(s) in %.1fs, %d failure(s)",
		utils.FormatBytes(uint64(totalSize)), len(pm.progressMap), elapsed, failures))
}
