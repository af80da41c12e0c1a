// Package psychometrics implements the pure 1-PL Rasch primitives the
// adaptive engine builds on: probability of a correct response, Fisher
// information, EAP ability updates, mastery probability, and the
// Elo-to-theta cold-start bridge. Every function here is deterministic
// and allocation-light; none perform I/O and none panic — numeric edge
// cases are clamped rather than raised.
package psychometrics

import "math"

// minDivisor replaces any divisor whose magnitude is at or below this
// threshold, so a near-zero weight sum or variance never produces a
// blown-up or NaN result.
const minDivisor = 1e-6

// QuadraturePoints is the number of equally spaced EAP quadrature nodes.
const QuadraturePoints = 41

// QuadratureHalfWidth bounds the quadrature grid in prior-sigma units:
// nodes run from -QuadratureHalfWidth to +QuadratureHalfWidth.
const QuadratureHalfWidth = 4.0

// minSE is the floor applied to a posterior standard deviation.
const minSE = 1e-6

func safeDiv(n, d float64) float64 {
	if math.Abs(d) <= minDivisor {
		if d < 0 {
			d = -minDivisor
		} else {
			d = minDivisor
		}
	}
	return n / d
}

// PCorrect is the 1-PL Rasch probability of a correct response:
// P(θ) = 1 / (1 + exp(-(θ-β))).
func PCorrect(theta, beta float64) float64 {
	return 1.0 / (1.0 + math.Exp(-(theta - beta)))
}

// Info is the dichotomous Fisher information at θ for an item of
// difficulty β: p·(1-p).
func Info(theta, beta float64) float64 {
	p := PCorrect(theta, beta)
	return p * (1 - p)
}

// GPCMPMF returns the probability of responding in each category
// 0..len(tau) for a Generalized Partial Credit Model item with category
// thresholds tau, at ability theta. Category 0 has no threshold
// subtracted; category k>=1 accumulates thresholds tau[0..k-1].
func GPCMPMF(theta float64, tau []float64) []float64 {
	m := len(tau) + 1
	logNum := make([]float64, m)
	cum := 0.0
	logNum[0] = 0
	for k := 1; k < m; k++ {
		cum += theta - tau[k-1]
		logNum[k] = cum
	}
	maxLog := logNum[0]
	for _, v := range logNum {
		if v > maxLog {
			maxLog = v
		}
	}
	sum := 0.0
	probs := make([]float64, m)
	for k, v := range logNum {
		probs[k] = math.Exp(v - maxLog)
		sum += probs[k]
	}
	for k := range probs {
		probs[k] = safeDiv(probs[k], sum)
	}
	return probs
}

// GPCMInfo is the polytomous Fisher information: Σ pₖ·(k-E[k])² over the
// GPCM category probabilities.
func GPCMInfo(theta float64, tau []float64) float64 {
	probs := GPCMPMF(theta, tau)
	var eK float64
	for k, p := range probs {
		eK += float64(k) * p
	}
	var info float64
	for k, p := range probs {
		d := float64(k) - eK
		info += p * d * d
	}
	return info
}

// Response is a single graded observation: k correct categories out of
// m attempts (m=1, k∈{0,1} for the dichotomous case this engine uses).
type Response struct {
	K int
	M int
}

// EAPInput is the full set of inputs to an EAP ability update.
type EAPInput struct {
	PriorMu    float64
	PriorSigma float64
	Response   Response
	Beta       float64
}

// EAPResult is the posterior ability estimate and its standard error.
type EAPResult struct {
	ThetaHat float64
	SE       float64
}

// EAPUpdate computes the expected a-posteriori ability estimate using
// QuadraturePoints equally spaced nodes θᵢ = priorMu + priorSigma·xᵢ,
// xᵢ ranging uniformly over [-QuadratureHalfWidth, QuadratureHalfWidth],
// with uniform quadrature weights. Each node is weighted by the
// standard-normal prior density exp(-xᵢ²/2) times the binomial-style
// likelihood pᵏ(1-p)^(m-k).
func EAPUpdate(in EAPInput) EAPResult {
	sigma := in.PriorSigma
	if sigma <= 0 {
		sigma = 0.8
	}
	k := float64(in.Response.K)
	m := float64(in.Response.M)
	if m <= 0 {
		m = 1
	}

	nodes := make([]float64, QuadraturePoints)
	likelihood := make([]float64, QuadraturePoints)
	var totalWeight float64

	step := (2 * QuadratureHalfWidth) / float64(QuadraturePoints-1)
	for i := 0; i < QuadraturePoints; i++ {
		x := -QuadratureHalfWidth + float64(i)*step
		theta := in.PriorMu + sigma*x
		nodes[i] = theta
		p := PCorrect(theta, in.Beta)
		// Clamp away from 0/1 so pow() never sees a zero base with a
		// zero exponent producing a discontinuity in practice.
		if p < minSE {
			p = minSE
		}
		if p > 1-minSE {
			p = 1 - minSE
		}
		lik := math.Exp(-x*x/2) * math.Pow(p, k) * math.Pow(1-p, m-k)
		likelihood[i] = lik
		totalWeight += lik
	}

	if totalWeight <= minDivisor {
		// Degenerate likelihood (shouldn't happen with clamped p, but
		// guard anyway): fall back to the prior.
		return EAPResult{ThetaHat: in.PriorMu, SE: math.Max(sigma, math.Sqrt(1e-12))}
	}

	var mean float64
	for i, theta := range nodes {
		mean += theta * likelihood[i] / totalWeight
	}

	var variance float64
	for i, theta := range nodes {
		d := theta - mean
		variance += d * d * likelihood[i] / totalWeight
	}
	se := math.Sqrt(math.Max(variance, 1e-12))

	return EAPResult{ThetaHat: mean, SE: se}
}

// EloToTheta converts a cold-start Elo rating to the 1-PL theta scale:
// (R-1500)/400.
func EloToTheta(r float64) float64 {
	return (r - 1500) / 400
}

// abramowitzStegunPhi approximates the standard normal CDF Φ(x) using
// the Abramowitz & Stegun 7.1.26 polynomial approximation (max error
// ~7.5e-8).
func abramowitzStegunPhi(x float64) float64 {
	sign := 1.0
	if x < 0 {
		sign = -1.0
		x = -x
	}
	const (
		a1 = 0.254829592
		a2 = -0.284496736
		a3 = 1.421413741
		a4 = -1.453152027
		a5 = 1.061405429
		p  = 0.3275911
	)
	t := 1.0 / (1.0 + p*x/math.Sqrt2)
	// Use the erf-based form: Φ(x) = 0.5*(1+erf(x/sqrt2))
	erf := 1.0 - (((((a5*t+a4)*t)+a3)*t+a2)*t+a1)*t*math.Exp(-x*x/2)
	return 0.5 * (1.0 + sign*erf)
}

// MasteryProbability returns Φ((θ-θ_cut)/se), the probability that the
// learner's true ability exceeds the mastery cutoff, clamped to [0,1].
func MasteryProbability(theta, se, thetaCut float64) float64 {
	if se <= 0 {
		se = minSE
	}
	z := safeDiv(theta-thetaCut, se)
	p := abramowitzStegunPhi(z)
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// DifficultyToBeta maps an authoring difficulty label to a Rasch β.
func DifficultyToBeta(label string) float64 {
	switch label {
	case "easy":
		return -0.7
	case "hard":
		return 0.7
	default: // "medium" and anything unrecognized
		return 0.0
	}
}
